package supervise

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/bellows/internal/config"
)

// Sidecar records runtime facts about the most recent launch of a VM. It
// lives next to the VM's artifacts and is informational only: liveness is
// always decided by the process-table scan, never by this file.
type Sidecar struct {
	LaunchID   string `yaml:"launch_id"`
	Pid        int    `yaml:"pid"`
	BootCount  int    `yaml:"boot_count"`
	LaunchedAt string `yaml:"launched_at"`
}

// SidecarPath returns the runtime sidecar location for rec.
func SidecarPath(rec *config.Record) string {
	dir := filepath.Dir(rec.DiskPath)
	return filepath.Join(dir, rec.Name+".runtime.yaml")
}

// ReadSidecar loads the sidecar for rec, or a zero value if none exists.
func ReadSidecar(rec *config.Record) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(rec))
	if err != nil {
		if os.IsNotExist(err) {
			return &Sidecar{}, nil
		}
		return nil, fmt.Errorf("failed to read runtime sidecar: %w", err)
	}
	var sc Sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse runtime sidecar: %w", err)
	}
	return &sc, nil
}

// writeSidecar records a fresh launch, carrying the boot count forward and
// filling the handle's launch id.
func writeSidecar(rec *config.Record, h *Handle) error {
	prev, err := ReadSidecar(rec)
	if err != nil {
		prev = &Sidecar{}
	}

	h.LaunchID = uuid.NewString()
	sc := Sidecar{
		LaunchID:   h.LaunchID,
		Pid:        h.Pid,
		BootCount:  prev.BootCount + 1,
		LaunchedAt: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := yaml.Marshal(&sc)
	if err != nil {
		return err
	}

	path := SidecarPath(rec)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// RemoveSidecar deletes the sidecar for rec if present.
func RemoveSidecar(rec *config.Record) {
	_ = os.Remove(SidecarPath(rec))
}
