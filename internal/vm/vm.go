// Package vm provides high-level VM lifecycle operations.
package vm

import (
	"context"

	"github.com/jbweber/bellows/internal/bootstrap"
	"github.com/jbweber/bellows/internal/config"
	"github.com/jbweber/bellows/internal/image"
	"github.com/jbweber/bellows/internal/store"
	"github.com/jbweber/bellows/internal/supervise"
)

// imageProvisioner defines the disk-image operations needed for VM
// management.
//
// In production, this is satisfied by *image.Provisioner.
// In tests, this is satisfied by mock implementations.
type imageProvisioner interface {
	// Ensure fetches the base image at url to target and grows it to size.
	Ensure(ctx context.Context, url, target, size string) error

	// Resize grows the image at path to size.
	Resize(path, size string) error
}

// seedPacker builds the provisioning seed artifact for a record.
type seedPacker func(rec *config.Record) error

// processSupervisor defines the hypervisor process operations needed for VM
// management.
//
// In production, this is satisfied by *supervise.Supervisor.
type processSupervisor interface {
	// Launch starts the hypervisor for rec.
	Launch(ctx context.Context, rec *config.Record) (waiter, error)

	// IsRunning reports whether rec's hypervisor is alive.
	IsRunning(rec *config.Record) bool

	// Stop terminates rec's hypervisor; no-op when stopped.
	Stop(rec *config.Record) error
}

// waiter blocks until a launched process exits.
type waiter interface {
	Wait() error
}

// bootstrapper drives startup actions on a booting VM.
//
// In production, this is satisfied by *bootstrap.Driver.
type bootstrapper interface {
	Run(ctx context.Context, port int, action string) error
	Exec(port int, command string) ([]byte, error)
}

// Manager composes the store, provisioner, supervisor, and bootstrap driver
// into the VM lifecycle operations.
type Manager struct {
	store       *store.Store
	provisioner imageProvisioner
	packSeed    seedPacker
	supervisor  processSupervisor
	bootstrap   bootstrapper
}

// superviseAdapter narrows *supervise.Supervisor's concrete handle to the
// waiter interface.
type superviseAdapter struct {
	*supervise.Supervisor
}

func (a superviseAdapter) Launch(ctx context.Context, rec *config.Record) (waiter, error) {
	return a.Supervisor.Launch(ctx, rec)
}

// NewManager returns a Manager wired with production collaborators, storing
// records and artifacts under root.
func NewManager(root string) *Manager {
	return &Manager{
		store:       store.New(root),
		provisioner: image.New(),
		packSeed:    packSeedFn,
		supervisor:  superviseAdapter{supervise.New()},
		bootstrap:   bootstrap.New(),
	}
}

// Store exposes the record store for read-only front-end use.
func (m *Manager) Store() *store.Store {
	return m.store
}
