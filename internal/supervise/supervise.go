// Package supervise launches and manages the hypervisor process for a VM.
//
// Liveness is determined by scanning the host process table, not by a held
// process handle, so VMs launched by a prior run of the tool remain visible
// and stoppable.
package supervise

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jbweber/bellows/internal/config"
)

// Candidate hypervisor binaries, probed in order:
//   - qemu-system-x86_64: Fedora, Debian, Ubuntu, Arch
//   - /usr/libexec/qemu-kvm: RHEL, CentOS (qemu-kvm package)
//   - qemu-kvm: alternative PATH name on some systems
var qemuCandidates = []string{
	"qemu-system-x86_64",
	"/usr/libexec/qemu-kvm",
	"qemu-kvm",
}

// stopGrace is how long Stop waits after SIGTERM before escalating.
const stopGrace = 10 * time.Second

// stopPollInterval is the liveness re-check cadence during the grace window.
const stopPollInterval = 500 * time.Millisecond

// Supervisor launches hypervisor processes and tracks their liveness via
// the process table.
type Supervisor struct {
	// Binary overrides hypervisor discovery when non-empty.
	Binary string

	// ProcRoot is the proc filesystem mount point, overridable for tests.
	ProcRoot string
}

// New returns a Supervisor with default settings.
func New() *Supervisor {
	return &Supervisor{ProcRoot: "/proc"}
}

// Handle represents a launched hypervisor process.
type Handle struct {
	Pid      int
	LaunchID string
	cmd      *exec.Cmd
}

// Wait blocks until the hypervisor process exits.
func (h *Handle) Wait() error {
	return h.cmd.Wait()
}

// binary resolves the hypervisor binary to launch.
func (s *Supervisor) binary() string {
	if s.Binary != "" {
		return s.Binary
	}
	for _, candidate := range qemuCandidates {
		if strings.HasPrefix(candidate, "/") {
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			continue
		}
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate
		}
	}
	return qemuCandidates[0]
}

// BuildArgs constructs the hypervisor argument list for rec. Malformed
// extra port forwards are skipped with a warning rather than aborting the
// launch.
func (s *Supervisor) BuildArgs(rec *config.Record) []string {
	args := []string{
		"-name", rec.Name,
		"-m", strconv.Itoa(rec.MemoryMB),
		"-smp", strconv.Itoa(rec.CPUs),
		"-drive", fmt.Sprintf("file=%s,format=qcow2,if=virtio", rec.DiskPath),
		"-drive", fmt.Sprintf("file=%s,format=raw,if=virtio,readonly=on", rec.SeedPath),
		"-netdev", fmt.Sprintf("user,id=net0,hostfwd=tcp::%d-:22", rec.SSHPort),
		"-device", "virtio-net-pci,netdev=net0",
	}

	forwards, bad := config.ParsePortForwards(rec.PortForward)
	for _, entry := range bad {
		log.Warn().Str("vm", rec.Name).Str("forward", entry).
			Msg("skipping malformed port forward")
	}
	for i, fwd := range forwards {
		id := fmt.Sprintf("net%d", i+1)
		args = append(args,
			"-netdev", fmt.Sprintf("user,id=%s,hostfwd=tcp::%d-:%d", id, fwd.HostPort, fwd.GuestPort),
			"-device", fmt.Sprintf("virtio-net-pci,netdev=%s", id),
		)
	}

	if rec.GUI {
		args = append(args, "-display", "gtk")
	} else {
		args = append(args, "-nographic")
	}

	args = append(args,
		"-device", "virtio-balloon-pci",
		"-device", "virtio-rng-pci",
	)
	return args
}

// Launch starts the hypervisor for rec and records a runtime sidecar next to
// the VM's artifacts. The returned handle's Wait blocks until the process
// exits.
func (s *Supervisor) Launch(ctx context.Context, rec *config.Record) (*Handle, error) {
	binary := s.binary()
	args := s.BuildArgs(rec)

	log.Debug().Str("vm", rec.Name).Str("binary", binary).Strs("args", args).
		Msg("launching hypervisor")

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if !rec.GUI {
		// Headless mode multiplexes the serial console onto our stdio.
		cmd.Stdin = os.Stdin
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", binary, err)
	}

	h := &Handle{Pid: cmd.Process.Pid, cmd: cmd}
	if err := writeSidecar(rec, h); err != nil {
		log.Warn().Err(err).Str("vm", rec.Name).Msg("failed to write runtime sidecar")
	}
	return h, nil
}

// FindPid scans the process table for a hypervisor whose command line names
// rec's disk artifact. Returns 0 when no such process exists.
func (s *Supervisor) FindPid(rec *config.Record) int {
	procRoot := s.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return 0
	}

	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		cmdline := strings.ReplaceAll(string(raw), "\x00", " ")
		if matchesVM(cmdline, rec) {
			return pid
		}
	}
	return 0
}

// matchesVM reports whether cmdline belongs to a hypervisor running rec.
// The match requires both the binary base name and the VM's disk path so a
// different VM's process, or an unrelated qemu, never matches.
func matchesVM(cmdline string, rec *config.Record) bool {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return false
	}
	base := filepath.Base(fields[0])
	if !strings.HasPrefix(base, "qemu") {
		return false
	}
	return rec.DiskPath != "" && strings.Contains(cmdline, rec.DiskPath)
}

// IsRunning reports whether a hypervisor for rec is alive on this host.
func (s *Supervisor) IsRunning(rec *config.Record) bool {
	return s.FindPid(rec) != 0
}

// Stop terminates rec's hypervisor. Already-stopped is a no-op success.
// SIGTERM first; if the process outlives the grace window, SIGKILL.
func (s *Supervisor) Stop(rec *config.Record) error {
	pid := s.FindPid(rec)
	if pid == 0 {
		log.Debug().Str("vm", rec.Name).Msg("already stopped")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	log.Info().Str("vm", rec.Name).Int("pid", pid).Msg("stopping")
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Process may have exited between the scan and the signal.
		if s.FindPid(rec) == 0 {
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if s.FindPid(rec) == 0 {
			return nil
		}
		time.Sleep(stopPollInterval)
	}

	log.Warn().Str("vm", rec.Name).Int("pid", pid).
		Msg("did not exit within grace period, forcing kill")
	if err := proc.Kill(); err != nil && s.FindPid(rec) != 0 {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
