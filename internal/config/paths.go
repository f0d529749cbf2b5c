package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvStorageRoot selects the VM storage root directory. When unset, the root
// defaults to a fixed subdirectory of the user's home directory.
const EnvStorageRoot = "BELLOWS_HOME"

// DefaultStorageDir is the storage root subdirectory under $HOME.
const DefaultStorageDir = ".bellows"

// StorageRoot resolves the VM storage root, creating it if necessary.
func StorageRoot() (string, error) {
	root := os.Getenv(EnvStorageRoot)
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		root = filepath.Join(home, DefaultStorageDir)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return root, nil
}
