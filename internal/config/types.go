// Package config defines the persisted per-VM record and its validation rules.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Name rules are shared by VM names and startup action names: both become
// filesystem paths (record files, in-guest action scripts).
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const (
	// MinSSHPort is the lowest acceptable SSH host port. Port 22 is excluded
	// so a VM forward can never shadow the host's own SSH daemon.
	MinSSHPort = 23

	// MaxSSHPort is the highest acceptable SSH host port.
	MaxSSHPort = 65535
)

// Record is the persisted configuration for one virtual machine.
//
// The name doubles as the storage key and is immutable after creation.
// StartupActions maps action names to shell commands executed verbatim in the
// guest; names follow the same character class as VM names.
type Record struct {
	Name        string `yaml:"name" json:"name"`
	OSFamily    string `yaml:"os_family" json:"os_family"`
	OSRelease   string `yaml:"os_release" json:"os_release"`
	ImageURL    string `yaml:"image_url" json:"image_url"`
	Hostname    string `yaml:"hostname" json:"hostname"`
	DiskSize    string `yaml:"disk_size" json:"disk_size"`
	MemoryMB    int    `yaml:"memory_mb" json:"memory_mb"`
	CPUs        int    `yaml:"cpus" json:"cpus"`
	SSHPort     int    `yaml:"ssh_port" json:"ssh_port"`
	GUI         bool   `yaml:"gui" json:"gui"`
	AutoLogin   bool   `yaml:"auto_login" json:"auto_login"`
	AutoStart   bool   `yaml:"auto_start" json:"auto_start"`
	PortForward string `yaml:"port_forward,omitempty" json:"port_forward,omitempty"`
	DiskPath    string `yaml:"disk_path" json:"disk_path"`
	SeedPath    string `yaml:"seed_path" json:"seed_path"`
	CreatedAt   string `yaml:"created_at" json:"created_at"`

	// StartupActions is the current serialization shape for the action
	// mapping. The legacy fields below are read for migration only and are
	// never written back.
	StartupActions map[string]string `yaml:"startup_actions,omitempty" json:"startup_actions,omitempty"`

	// LegacyCommand holds the historical single "default" action field.
	LegacyCommand string `yaml:"startup_command,omitempty" json:"-"`

	// LegacyActions holds the historical delimiter-encoded action mapping.
	LegacyActions string `yaml:"startup_actions_raw,omitempty" json:"-"`
}

// PortForwardSpec is one host:guest forward parsed from the record's
// free-form forward list.
type PortForwardSpec struct {
	HostPort  int
	GuestPort int
}

// ValidateName reports whether s is a valid VM or action identifier.
func ValidateName(s string) error {
	if s == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if !namePattern.MatchString(s) {
		return fmt.Errorf("name must contain only letters, digits, hyphens, or underscores, got %q", s)
	}
	return nil
}

// ValidateDiskSize checks a disk size spec: a positive integer followed by a
// G or M unit suffix, e.g. "10G" or "512M".
func ValidateDiskSize(s string) error {
	if len(s) < 2 {
		return fmt.Errorf("disk size must be a positive integer with a G or M suffix, got %q", s)
	}
	unit := s[len(s)-1]
	if unit != 'G' && unit != 'M' {
		return fmt.Errorf("disk size unit must be G or M, got %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return fmt.Errorf("disk size must be a positive integer with a G or M suffix, got %q", s)
	}
	return nil
}

// ValidateSSHPort checks the port range only. Use ProbeSSHPort to also verify
// the port is free on the host.
func ValidateSSHPort(port int) error {
	if port < MinSSHPort || port > MaxSSHPort {
		return fmt.Errorf("ssh port must be in [%d, %d], got %d", MinSSHPort, MaxSSHPort, port)
	}
	return nil
}

// ProbeSSHPort validates the range and verifies the port is currently free by
// binding it briefly. A port in use by another process (including another VM)
// is rejected.
func ProbeSSHPort(port int) error {
	if err := ValidateSSHPort(port); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("ssh port %d is not free on the host: %w", port, err)
	}
	_ = ln.Close()
	return nil
}

// ParsePortForwards splits the record's comma-separated forward list into
// specs. Malformed entries (missing host or guest port) are returned in bad
// rather than aborting: the supervisor skips them with a warning.
func ParsePortForwards(spec string) (forwards []PortForwardSpec, bad []string) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			bad = append(bad, entry)
			continue
		}
		host, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || host <= 0 {
			bad = append(bad, entry)
			continue
		}
		// Guest side may carry a trailing qualifier such as "8080/tcp".
		guestStr := strings.TrimSpace(parts[1])
		if i := strings.IndexByte(guestStr, '/'); i >= 0 {
			guestStr = guestStr[:i]
		}
		guest, err := strconv.Atoi(guestStr)
		if err != nil || guest <= 0 {
			bad = append(bad, entry)
			continue
		}
		forwards = append(forwards, PortForwardSpec{HostPort: host, GuestPort: guest})
	}
	return forwards, bad
}

// Validate checks the full record for structural errors. It does not probe
// host resources; create and edit operations do that at assignment time.
func (r *Record) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return fmt.Errorf("vm name: %w", err)
	}
	if r.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if r.ImageURL == "" {
		return fmt.Errorf("image_url is required")
	}
	if err := ValidateDiskSize(r.DiskSize); err != nil {
		return err
	}
	if r.MemoryMB <= 0 {
		return fmt.Errorf("memory_mb must be > 0, got %d", r.MemoryMB)
	}
	if r.CPUs <= 0 {
		return fmt.Errorf("cpus must be > 0, got %d", r.CPUs)
	}
	if err := ValidateSSHPort(r.SSHPort); err != nil {
		return err
	}
	for name := range r.StartupActions {
		if err := ValidateName(name); err != nil {
			return fmt.Errorf("startup action %q: %w", name, err)
		}
	}
	return nil
}

// DiskFileName returns the record's disk artifact file name.
func (r *Record) DiskFileName() string {
	return fmt.Sprintf("%s.qcow2", r.Name)
}

// SeedFileName returns the record's seed artifact file name.
func (r *Record) SeedFileName() string {
	return fmt.Sprintf("%s-seed.iso", r.Name)
}

// AssignArtifactPaths fills DiskPath and SeedPath under the given storage
// root. Called once at create time; the paths are persisted with the record.
func (r *Record) AssignArtifactPaths(root string) {
	r.DiskPath = filepath.Join(root, r.DiskFileName())
	r.SeedPath = filepath.Join(root, r.SeedFileName())
}
