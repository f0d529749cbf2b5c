package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jbweber/bellows/internal/vm"
)

var setCmd = &cobra.Command{
	Use:   "set <vm-name> <field> <value>",
	Short: "Edit a single VM field",
	Long: `Edit one field of a VM record. The change is validated and persisted
immediately. Fields taking effect at boot (hostname, autologin, forwards)
apply on the next start, when the seed is rebuilt.

Fields:
  hostname <name>       guest hostname
  memory <mib>          memory in MiB
  cpus <count>          virtual CPU count
  ssh-port <port>       host SSH port (must be free, 23-65535)
  gui <true|false>      graphical display
  autologin <true|false> console autologin
  autostart <true|false> auto-select-and-start eligibility
  forward <spec>        extra port forwards, e.g. "8080:80"`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		name, field, value := args[0], args[1], args[2]
		if err := applyEdit(mgr, name, field, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", field, err)
		}
		fmt.Printf("VM %s: %s updated\n", name, field)
		return nil
	},
}

func applyEdit(mgr *vm.Manager, name, field, value string) error {
	switch field {
	case "hostname":
		return mgr.SetHostname(name, value)
	case "memory":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("memory must be an integer: %q", value)
		}
		return mgr.SetMemory(name, n)
	case "cpus":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("cpus must be an integer: %q", value)
		}
		return mgr.SetCPUs(name, n)
	case "ssh-port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("ssh-port must be an integer: %q", value)
		}
		return mgr.SetSSHPort(name, n)
	case "gui":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("gui must be true or false: %q", value)
		}
		return mgr.SetGUI(name, b)
	case "autologin":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("autologin must be true or false: %q", value)
		}
		return mgr.SetAutoLogin(name, b)
	case "autostart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("autostart must be true or false: %q", value)
		}
		return mgr.SetAutoStart(name, b)
	case "forward":
		return mgr.SetPortForward(name, value)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
}
