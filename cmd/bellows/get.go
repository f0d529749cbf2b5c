package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/bellows/internal/output"
)

var (
	outputFormat string
	noHeaders    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs",
	Long: `List all virtual machines.

Shows name, state, SSH port, resources, and the auto-start flag.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML stream, one document per VM
  -o json   JSON array`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		mgr, err := newManager()
		if err != nil {
			return err
		}
		summaries, err := mgr.List()
		if err != nil {
			return fmt.Errorf("failed to list VMs: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatList(summaries)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <vm-name>",
	Short: "Show details about a VM",
	Long: `Show detailed information about a single virtual machine, including
its record, run state, configured startup actions, and boot history.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		mgr, err := newManager()
		if err != nil {
			return err
		}
		detail, err := mgr.Info(args[0])
		if err != nil {
			return fmt.Errorf("failed to get VM: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format: output.Format(outputFormat),
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatDetail(detail)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{listCmd, infoCmd} {
		cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, yaml, json)")
	}
	listCmd.Flags().BoolVar(&noHeaders, "no-headers", false, "omit the header row in table output")
}
