package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jbweber/bellows/internal/vm"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatList formats the VM listing as a table.
func (f *TableFormatter) FormatList(vms []vm.Summary) (string, error) {
	if len(vms) == 0 {
		return "No VMs found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSTATE\tSSH\tVCPUs\tMEMORY\tAUTOSTART")
	}

	for _, v := range vms {
		state := "stopped"
		if v.Running {
			state = "running"
		}
		autostart := "-"
		if v.AutoStart {
			autostart = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d MiB\t%s\n",
			v.Name, state, v.SSHPort, v.CPUs, v.MemoryMB, autostart)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatDetail formats a single VM as a key-value table.
func (f *TableFormatter) FormatDetail(d *vm.Detail) (string, error) {
	rec := d.Record

	state := "stopped"
	if d.Running {
		state = "running"
	}

	age := "-"
	if t, err := time.Parse(time.RFC3339, rec.CreatedAt); err == nil {
		age = formatAge(time.Since(t))
	}

	actions := "-"
	if len(d.Actions) > 0 {
		actions = strings.Join(d.Actions, ", ")
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	rows := []struct {
		key   string
		value string
	}{
		{"Name", rec.Name},
		{"State", state},
		{"Hostname", rec.Hostname},
		{"OS", strings.TrimSpace(rec.OSFamily + " " + rec.OSRelease)},
		{"Disk", fmt.Sprintf("%s (%s)", rec.DiskSize, rec.DiskPath)},
		{"Memory", fmt.Sprintf("%d MiB", rec.MemoryMB)},
		{"VCPUs", fmt.Sprintf("%d", rec.CPUs)},
		{"SSH port", fmt.Sprintf("%d", rec.SSHPort)},
		{"Port forwards", orDash(rec.PortForward)},
		{"GUI", yesNo(rec.GUI)},
		{"Autologin", yesNo(rec.AutoLogin)},
		{"Autostart", yesNo(rec.AutoStart)},
		{"Actions", actions},
		{"Boots", fmt.Sprintf("%d", d.BootCount)},
		{"Age", age},
	}
	if d.Running && d.Pid != 0 {
		rows = append(rows, struct{ key, value string }{"PID", fmt.Sprintf("%d", d.Pid)})
	}

	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", r.key, r.value)
	}

	_ = w.Flush()
	return buf.String(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}
