package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jbweber/bellows/internal/actions"
)

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Manage startup actions",
	Long: `Manage a VM's startup actions: named shell commands installed into the
guest at boot and runnable through the action dispatcher.

Actions are listed in name order; edit and delete address them by their
position in that listing.`,
}

var actionAddCmd = &cobra.Command{
	Use:   "add <vm-name> <action-name> <command>",
	Short: "Add a startup action",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		if err := mgr.AddAction(args[0], args[1], args[2]); err != nil {
			return fmt.Errorf("failed to add action: %w", err)
		}
		fmt.Printf("Action %s added to %s\n", args[1], args[0])
		return nil
	},
}

var actionEditCmd = &cobra.Command{
	Use:   "edit <vm-name> <index> <command>",
	Short: "Replace the command of an action by index",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("index must be an integer: %q", args[1])
		}
		if err := mgr.EditAction(args[0], index, args[2]); err != nil {
			return fmt.Errorf("failed to edit action: %w", err)
		}
		return nil
	},
}

var actionDeleteCmd = &cobra.Command{
	Use:   "delete <vm-name> <index>",
	Short: "Remove an action by index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("index must be an integer: %q", args[1])
		}
		if err := mgr.DeleteAction(args[0], index); err != nil {
			return fmt.Errorf("failed to delete action: %w", err)
		}
		return nil
	},
}

var actionListCmd = &cobra.Command{
	Use:   "list <vm-name>",
	Short: "List a VM's startup actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		rec, err := mgr.Store().Load(args[0])
		if err != nil {
			return err
		}
		names := actions.Names(rec.StartupActions)
		if len(names) == 0 {
			fmt.Println("No actions configured")
			return nil
		}
		for i, name := range names {
			fmt.Printf("%d. %s: %s\n", i+1, name, rec.StartupActions[name])
		}
		return nil
	},
}

var actionRunCmd = &cobra.Command{
	Use:   "run <vm-name> <action-name>",
	Short: "Run a startup action on a running VM",
	Long: `Run a configured startup action on an already-running VM over SSH.

Single attempt, no retry; the VM must be up and reachable on its SSH port.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager()
		if err != nil {
			return err
		}
		out, err := mgr.RunAction(args[0], args[1])
		if len(out) > 0 {
			fmt.Print(string(out))
		}
		if err != nil {
			return fmt.Errorf("failed to run action: %w", err)
		}
		return nil
	},
}

func init() {
	actionCmd.AddCommand(actionAddCmd)
	actionCmd.AddCommand(actionEditCmd)
	actionCmd.AddCommand(actionDeleteCmd)
	actionCmd.AddCommand(actionListCmd)
	actionCmd.AddCommand(actionRunCmd)
}
