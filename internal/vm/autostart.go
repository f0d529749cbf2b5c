package vm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// AutoStart scans all records in lexicographic name order and starts the
// first one flagged auto_start. Any further flagged records are reported as
// skipped, never started. Returns an error when no record is flagged.
func (m *Manager) AutoStart(ctx context.Context, action string) error {
	names, err := m.store.List()
	if err != nil {
		return err
	}

	var selected string
	var skipped []string
	for _, name := range names {
		rec, err := m.store.Load(name)
		if err != nil {
			log.Warn().Err(err).Str("vm", name).Msg("skipping unreadable record")
			continue
		}
		if !rec.AutoStart {
			continue
		}
		if selected == "" {
			selected = name
			continue
		}
		skipped = append(skipped, name)
	}

	if selected == "" {
		return fmt.Errorf("no vm has auto-start enabled")
	}
	for _, name := range skipped {
		log.Warn().Str("vm", name).Str("selected", selected).
			Msg("auto-start flagged but skipped; only one vm starts")
	}

	return m.Start(ctx, selected, action)
}
