package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jbweber/bellows/internal/config"
	"github.com/jbweber/bellows/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	setupLogging()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging configures zerolog for console output. BELLOWS_LOG_LEVEL
// selects the level; default is info.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level := zerolog.InfoLevel
	if raw := os.Getenv("BELLOWS_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}

var rootCmd = &cobra.Command{
	Use:   "bellows",
	Short: "Bellows - local QEMU VM lifecycle tool",
	Long: `Bellows manages small local QEMU virtual machines: it downloads base
images, provisions guests via cloud-init seed media, and supervises the
hypervisor process.

VM records and artifacts live under $BELLOWS_HOME (default ~/.bellows).`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(resizeCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(autostartCmd)
}

// newManager builds the production manager rooted at the storage directory.
func newManager() (*vm.Manager, error) {
	root, err := config.StorageRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	return vm.NewManager(root), nil
}
