package vm

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jbweber/bellows/internal/actions"
	"github.com/jbweber/bellows/internal/config"
)

// mutate loads a record, applies fn, re-validates, and persists. Every
// single field edit goes through here so a crash mid-session never loses
// more than the change in flight.
func (m *Manager) mutate(name string, fn func(rec *config.Record) error) error {
	rec, err := m.store.Load(name)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	return m.store.Save(rec)
}

// SetHostname updates the guest hostname.
func (m *Manager) SetHostname(name, hostname string) error {
	return m.mutate(name, func(rec *config.Record) error {
		rec.Hostname = hostname
		return nil
	})
}

// SetMemory updates the memory allocation in MiB.
func (m *Manager) SetMemory(name string, memoryMB int) error {
	return m.mutate(name, func(rec *config.Record) error {
		rec.MemoryMB = memoryMB
		return nil
	})
}

// SetCPUs updates the virtual CPU count.
func (m *Manager) SetCPUs(name string, cpus int) error {
	return m.mutate(name, func(rec *config.Record) error {
		rec.CPUs = cpus
		return nil
	})
}

// SetSSHPort updates the forwarded SSH host port after probing that the new
// port is free.
func (m *Manager) SetSSHPort(name string, port int) error {
	return m.mutate(name, func(rec *config.Record) error {
		if err := config.ProbeSSHPort(port); err != nil {
			return err
		}
		rec.SSHPort = port
		return nil
	})
}

// SetGUI toggles graphical display mode.
func (m *Manager) SetGUI(name string, gui bool) error {
	return m.mutate(name, func(rec *config.Record) error {
		rec.GUI = gui
		return nil
	})
}

// SetAutoLogin toggles console autologin in the provisioning payload.
func (m *Manager) SetAutoLogin(name string, autoLogin bool) error {
	return m.mutate(name, func(rec *config.Record) error {
		rec.AutoLogin = autoLogin
		return nil
	})
}

// SetAutoStart toggles eligibility for auto-select-and-start.
func (m *Manager) SetAutoStart(name string, autoStart bool) error {
	return m.mutate(name, func(rec *config.Record) error {
		rec.AutoStart = autoStart
		return nil
	})
}

// SetPortForward replaces the extra port-forward list. Malformed entries are
// rejected here rather than at launch time.
func (m *Manager) SetPortForward(name, spec string) error {
	return m.mutate(name, func(rec *config.Record) error {
		if _, bad := config.ParsePortForwards(spec); len(bad) > 0 {
			return fmt.Errorf("malformed port forwards: %v", bad)
		}
		rec.PortForward = spec
		return nil
	})
}

// AddAction registers a new startup action. Changes take effect on the next
// start, when the seed is repacked.
func (m *Manager) AddAction(name, actionName, command string) error {
	return m.mutate(name, func(rec *config.Record) error {
		if rec.StartupActions == nil {
			rec.StartupActions = make(map[string]string)
		}
		return actions.Add(rec.StartupActions, actionName, command)
	})
}

// EditAction replaces the command of the action at the given 1-based index
// in sorted-name order.
func (m *Manager) EditAction(name string, index int, command string) error {
	return m.mutate(name, func(rec *config.Record) error {
		actionName, err := actions.Edit(rec.StartupActions, index, command)
		if err != nil {
			return err
		}
		log.Info().Str("vm", name).Str("action", actionName).Msg("action updated")
		return nil
	})
}

// DeleteAction removes the action at the given 1-based index in sorted-name
// order.
func (m *Manager) DeleteAction(name string, index int) error {
	return m.mutate(name, func(rec *config.Record) error {
		actionName, err := actions.Delete(rec.StartupActions, index)
		if err != nil {
			return err
		}
		log.Info().Str("vm", name).Str("action", actionName).Msg("action removed")
		return nil
	})
}
