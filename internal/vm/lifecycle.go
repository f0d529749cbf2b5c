package vm

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/jbweber/bellows/internal/config"
	"github.com/jbweber/bellows/internal/supervise"
)

// Stop gracefully terminates a VM's hypervisor. Stopping a stopped VM is a
// no-op success.
func (m *Manager) Stop(name string) error {
	rec, err := m.store.Load(name)
	if err != nil {
		return err
	}
	return m.supervisor.Stop(rec)
}

// Delete removes a VM entirely: the hypervisor is stopped if running, then
// the disk image, the seed artifact, the runtime sidecar, and finally the
// record are removed. Missing artifacts are skipped; nothing about the VM
// survives a successful delete.
func (m *Manager) Delete(name string) error {
	rec, err := m.store.Load(name)
	if err != nil {
		return err
	}

	if m.supervisor.IsRunning(rec) {
		log.Info().Str("vm", name).Msg("stopping before delete")
		if err := m.supervisor.Stop(rec); err != nil {
			return fmt.Errorf("failed to stop vm before delete: %w", err)
		}
	}

	for _, path := range []string{rec.DiskPath, rec.SeedPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove artifact %s: %w", path, err)
		}
	}
	supervise.RemoveSidecar(rec)

	if err := m.store.Delete(name); err != nil {
		return err
	}
	log.Info().Str("vm", name).Msg("deleted")
	return nil
}

// Resize grows a VM's disk to size. Requesting the current size is a no-op
// success that invokes no tooling.
func (m *Manager) Resize(name, size string) error {
	rec, err := m.store.Load(name)
	if err != nil {
		return err
	}
	if size == rec.DiskSize {
		log.Info().Str("vm", name).Str("size", size).Msg("disk already at requested size")
		return nil
	}
	if err := config.ValidateDiskSize(size); err != nil {
		return err
	}
	if err := m.provisioner.Resize(rec.DiskPath, size); err != nil {
		return err
	}
	rec.DiskSize = size
	return m.store.Save(rec)
}
