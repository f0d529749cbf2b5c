package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jbweber/bellows/internal/cloudinit"
	"github.com/jbweber/bellows/internal/config"
)

// packSeedFn is the production seed packer.
func packSeedFn(rec *config.Record) error {
	return cloudinit.PackSeed(rec)
}

// Create provisions a new VM from rec:
//  1. Validate every field and reject duplicates
//  2. Probe that the SSH host port is actually free
//  3. Assign artifact paths under the storage root
//  4. Download and size the base disk image
//  5. Build and pack the provisioning seed
//  6. Persist the record
//
// Download and extraction failures may leave a partial disk artifact behind;
// scratch directories are always cleaned up.
func (m *Manager) Create(ctx context.Context, rec *config.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if m.store.Exists(rec.Name) {
		return fmt.Errorf("vm %q already exists", rec.Name)
	}
	if err := config.ProbeSSHPort(rec.SSHPort); err != nil {
		return err
	}

	rec.AssignArtifactPaths(m.store.Root())
	rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	log.Info().Str("vm", rec.Name).Str("url", rec.ImageURL).Msg("provisioning disk image")
	if err := m.provisioner.Ensure(ctx, rec.ImageURL, rec.DiskPath, rec.DiskSize); err != nil {
		return fmt.Errorf("failed to provision disk image: %w", err)
	}

	log.Info().Str("vm", rec.Name).Msg("packing provisioning seed")
	if err := m.packSeed(rec); err != nil {
		return fmt.Errorf("failed to pack seed: %w", err)
	}

	if err := m.store.Save(rec); err != nil {
		return fmt.Errorf("failed to persist record: %w", err)
	}

	log.Info().Str("vm", rec.Name).Msg("created")
	return nil
}
