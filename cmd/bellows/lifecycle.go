package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <vm-name> [action-name]",
	Short: "Start a VM",
	Long: `Start a virtual machine and block until its hypervisor exits.

The cloud-init seed is rebuilt on every start so configuration changes take
effect. When an action name is given, the named startup action is driven
over SSH once the guest is reachable; if it cannot be reached within the
retry window, the VM keeps running and a warning tells you how to run the
action manually.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		action := ""
		if len(args) == 2 {
			action = args[1]
		}
		if err := mgr.Start(context.Background(), args[0], action); err != nil {
			return fmt.Errorf("failed to start VM: %w", err)
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <vm-name>",
	Short: "Stop a VM",
	Long: `Stop a running virtual machine.

Sends a graceful terminate signal first; if the hypervisor does not exit
within the grace period, it is killed. Stopping a stopped VM succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		if err := mgr.Stop(args[0]); err != nil {
			return fmt.Errorf("failed to stop VM: %w", err)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <vm-name>",
	Short: "Delete a VM",
	Long: `Delete a virtual machine.

This will:
- Stop the VM if running
- Remove the disk image and seed artifacts
- Remove the VM record`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		if err := mgr.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to delete VM: %w", err)
		}
		return nil
	},
}

var resizeCmd = &cobra.Command{
	Use:   "resize <vm-name> <size>",
	Short: "Resize a VM's disk",
	Long: `Grow a virtual machine's disk to the given size (e.g. 20G).

Resizing to the current size is a no-op. Shrinking is not supported by the
underlying tooling and will fail.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		if err := mgr.Resize(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to resize VM: %w", err)
		}
		return nil
	},
}

var autostartCmd = &cobra.Command{
	Use:   "autostart [action-name]",
	Short: "Start the VM marked for auto-start",
	Long: `Scan all VMs in name order and start the first one with auto-start
enabled. Additional flagged VMs are reported and skipped; exactly one VM
starts. An optional action name is passed through to the start.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}

		action := ""
		if len(args) == 1 {
			action = args[0]
		}
		if err := mgr.AutoStart(context.Background(), action); err != nil {
			return fmt.Errorf("failed to auto-start: %w", err)
		}
		return nil
	},
}
