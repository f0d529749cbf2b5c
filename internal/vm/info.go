package vm

import (
	"github.com/jbweber/bellows/internal/actions"
	"github.com/jbweber/bellows/internal/config"
	"github.com/jbweber/bellows/internal/supervise"
)

// Summary is one row of the VM listing.
type Summary struct {
	Name      string `json:"name" yaml:"name"`
	Hostname  string `json:"hostname" yaml:"hostname"`
	MemoryMB  int    `json:"memory_mb" yaml:"memory_mb"`
	CPUs      int    `json:"cpus" yaml:"cpus"`
	SSHPort   int    `json:"ssh_port" yaml:"ssh_port"`
	AutoStart bool   `json:"auto_start" yaml:"auto_start"`
	Running   bool   `json:"running" yaml:"running"`
}

// Detail is the full view of a single VM.
type Detail struct {
	Record    *config.Record     `json:"record" yaml:"record"`
	Running   bool               `json:"running" yaml:"running"`
	Pid       int                `json:"pid,omitempty" yaml:"pid,omitempty"`
	Actions   []string           `json:"actions,omitempty" yaml:"actions,omitempty"`
	BootCount int                `json:"boot_count" yaml:"boot_count"`
	LaunchID  string             `json:"launch_id,omitempty" yaml:"launch_id,omitempty"`
}

// List returns a summary row per VM, sorted by name.
func (m *Manager) List() ([]Summary, error) {
	names, err := m.store.List()
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(names))
	for _, name := range names {
		rec, err := m.store.Load(name)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, Summary{
			Name:      rec.Name,
			Hostname:  rec.Hostname,
			MemoryMB:  rec.MemoryMB,
			CPUs:      rec.CPUs,
			SSHPort:   rec.SSHPort,
			AutoStart: rec.AutoStart,
			Running:   m.supervisor.IsRunning(rec),
		})
	}
	return summaries, nil
}

// Info returns the full detail view for one VM.
func (m *Manager) Info(name string) (*Detail, error) {
	rec, err := m.store.Load(name)
	if err != nil {
		return nil, err
	}

	d := &Detail{
		Record:  rec,
		Running: m.supervisor.IsRunning(rec),
		Actions: actions.Names(rec.StartupActions),
	}

	sc, err := supervise.ReadSidecar(rec)
	if err == nil {
		d.BootCount = sc.BootCount
		d.LaunchID = sc.LaunchID
		if d.Running {
			d.Pid = sc.Pid
		}
	}
	return d, nil
}
