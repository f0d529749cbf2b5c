package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jbweber/bellows/internal/bootstrap"
	"github.com/jbweber/bellows/internal/cloudinit"
)

// Start boots a VM and blocks until its hypervisor process exits. The seed
// is always rebuilt first so credentials and startup actions reflect the
// current record; a stale seed would also carry a stale instance id and the
// guest would skip provisioning.
//
// When action names a configured startup action, the bootstrap driver runs
// it over SSH while the process runs. Bootstrap exhaustion is a warning,
// never a start failure.
func (m *Manager) Start(ctx context.Context, name, action string) error {
	rec, err := m.store.Load(name)
	if err != nil {
		return err
	}
	if m.supervisor.IsRunning(rec) {
		return fmt.Errorf("vm %q is already running", name)
	}

	if action != "" {
		if _, ok := rec.StartupActions[action]; !ok {
			return fmt.Errorf("vm %q has no startup action %q", name, action)
		}
	}

	log.Info().Str("vm", name).Msg("repacking provisioning seed")
	if err := m.packSeed(rec); err != nil {
		return fmt.Errorf("failed to pack seed: %w", err)
	}

	handle, err := m.supervisor.Launch(ctx, rec)
	if err != nil {
		return err
	}
	log.Info().Str("vm", name).Msg("started")

	if action != "" {
		if err := m.bootstrap.Run(ctx, rec.SSHPort, action); err != nil {
			if !errors.Is(err, bootstrap.ErrExhausted) {
				// Bootstrap only fails like this on context cancellation,
				// which also signals the hypervisor; reap the child before
				// surfacing the error so it never lingers as a zombie.
				_ = handle.Wait()
				return err
			}
			log.Warn().Str("vm", name).Str("action", action).
				Msgf("startup action did not complete; run it manually: ssh -p %d %s@127.0.0.1 '%s %s'",
					rec.SSHPort, cloudinit.GuestUser, cloudinit.DispatcherPath, action)
		}
	}

	log.Debug().Str("vm", name).Msg("waiting for hypervisor to exit")
	if err := handle.Wait(); err != nil {
		return fmt.Errorf("hypervisor exited with error: %w", err)
	}
	return nil
}

// RunAction executes a configured startup action on an already-running VM,
// single attempt, and returns the dispatcher's combined output.
func (m *Manager) RunAction(name, action string) ([]byte, error) {
	rec, err := m.store.Load(name)
	if err != nil {
		return nil, err
	}
	if _, ok := rec.StartupActions[action]; !ok {
		return nil, fmt.Errorf("vm %q has no startup action %q", name, action)
	}
	if !m.supervisor.IsRunning(rec) {
		return nil, fmt.Errorf("vm %q is not running", name)
	}
	return m.bootstrap.Exec(rec.SSHPort, fmt.Sprintf("%s %s", cloudinit.DispatcherPath, action))
}
