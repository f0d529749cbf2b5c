// Package store persists one YAML record file per VM under the storage root.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/bellows/internal/actions"
	"github.com/jbweber/bellows/internal/config"
)

// ErrNotFound is returned by Load when no record exists for the given name.
var ErrNotFound = errors.New("vm record not found")

// Store reads and writes VM records. Records live as <name>.yaml files
// directly under the root directory; artifacts live alongside them.
type Store struct {
	root string
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

// RecordPath returns the record file path for a VM name.
func (s *Store) RecordPath(name string) string {
	return filepath.Join(s.root, name+".yaml")
}

// Load reads a record by name. The record is built from a fresh zero value
// with defaults applied before unmarshaling, so a file missing a newer field
// yields that field's documented default rather than anything stale.
//
// Two historical shapes of the startup-action mapping are accepted:
// the delimiter-encoded startup_actions_raw field, and the single legacy
// startup_command field which is promoted under the key "default" only when
// the mapping would otherwise be empty. The current structured mapping takes
// precedence whenever it is present and non-empty.
func (s *Store) Load(name string) (*config.Record, error) {
	if err := config.ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.RecordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read record for %s: %w", name, err)
	}

	rec := newRecordWithDefaults()
	if err := yaml.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to parse record for %s: %w", name, err)
	}

	if err := migrateActions(rec); err != nil {
		return nil, fmt.Errorf("record for %s: %w", name, err)
	}

	// The stored key always wins over whatever the file claims.
	rec.Name = name
	return rec, nil
}

// newRecordWithDefaults returns a record carrying the documented defaults for
// fields that may be absent from older files.
func newRecordWithDefaults() *config.Record {
	return &config.Record{
		AutoLogin:      true,
		AutoStart:      false,
		StartupActions: map[string]string{},
	}
}

// migrateActions folds the legacy action fields into the structured mapping.
// The legacy fields are cleared afterwards; Save never re-emits them.
func migrateActions(rec *config.Record) error {
	if rec.StartupActions == nil {
		rec.StartupActions = map[string]string{}
	}

	if len(rec.StartupActions) == 0 && rec.LegacyActions != "" {
		decoded, err := actions.Decode(rec.LegacyActions)
		if err != nil {
			return fmt.Errorf("legacy action mapping: %w", err)
		}
		rec.StartupActions = decoded
	}

	if len(rec.StartupActions) == 0 && rec.LegacyCommand != "" {
		rec.StartupActions["default"] = rec.LegacyCommand
	}

	rec.LegacyActions = ""
	rec.LegacyCommand = ""
	return nil
}

// Save writes the record in the current format with the full field set,
// atomically via a temp-file rename.
func (s *Store) Save(rec *config.Record) error {
	if err := config.ValidateName(rec.Name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage root: %w", err)
	}

	// Legacy fields are load-time only.
	rec.LegacyActions = ""
	rec.LegacyCommand = ""

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", rec.Name, err)
	}

	path := s.RecordPath(rec.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record for %s: %w", rec.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace record for %s: %w", rec.Name, err)
	}
	return nil
}

// Delete removes the record file. Artifacts are the orchestrator's problem.
func (s *Store) Delete(name string) error {
	if err := config.ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.RecordPath(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete record for %s: %w", name, err)
	}
	return nil
}

// Exists reports whether a record file is present for the given name.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.RecordPath(name))
	return err == nil
}

// List enumerates all record names, sorted lexicographically. The sorted
// order is the store's documented enumeration order: operations that pick
// "the first" record (auto-select-and-start) are deterministic because of it.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to enumerate storage root: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		if config.ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
