package cloudinit

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/kdomanski/iso9660"
	"github.com/rs/zerolog/log"

	"github.com/jbweber/bellows/internal/config"
)

// ErrToolMissing is returned when neither the embedded writer nor any of the
// external packing tools could produce the seed image.
var ErrToolMissing = errors.New("no seed packaging tool available")

// NoCloud requires the uppercase CIDATA volume label.
const seedVolumeLabel = "CIDATA"

// Fallback tools tried in order when the embedded writer fails. Both take
// the same genisoimage-compatible argument set.
var fallbackTools = []string{"genisoimage", "mkisofs"}

// PackSeed builds and writes the seed image for a record. It generates both
// provisioning documents with a fresh token, preferring the embedded ISO9660
// writer and falling back to the external tools. The resulting artifact lands
// at rec.SeedPath, replacing any previous seed.
func PackSeed(rec *config.Record) error {
	token := FreshnessToken()

	userData, err := BuildUserData(rec)
	if err != nil {
		return fmt.Errorf("failed to generate user-data: %w", err)
	}
	metaData, err := BuildMetaData(rec, token)
	if err != nil {
		return fmt.Errorf("failed to generate meta-data: %w", err)
	}

	err = packNative(rec.SeedPath, userData, metaData)
	if err == nil {
		return nil
	}
	log.Debug().Err(err).Str("vm", rec.Name).Msg("embedded ISO writer failed, trying external tools")
	return packExternal(rec.SeedPath, userData, metaData)
}

// packNative writes the seed with the in-process ISO9660 writer.
func packNative(seedPath, userData, metaData string) error {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return fmt.Errorf("failed to add user-data: %w", err)
	}
	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return fmt.Errorf("failed to add meta-data: %w", err)
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, seedVolumeLabel); err != nil {
		return fmt.Errorf("failed to write ISO image: %w", err)
	}

	tmp := seedPath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write seed image: %w", err)
	}
	if err := os.Rename(tmp, seedPath); err != nil {
		return fmt.Errorf("failed to replace seed image: %w", err)
	}
	return nil
}

// packExternal shells out to genisoimage or mkisofs. The intermediate
// documents go into a scratch directory that is removed unconditionally,
// success or failure.
func packExternal(seedPath, userData, metaData string) error {
	scratch, err := os.MkdirTemp("", "bellows-seed-")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	if err := os.WriteFile(filepath.Join(scratch, "user-data"), []byte(userData), 0o644); err != nil {
		return fmt.Errorf("failed to stage user-data: %w", err)
	}
	if err := os.WriteFile(filepath.Join(scratch, "meta-data"), []byte(metaData), 0o644); err != nil {
		return fmt.Errorf("failed to stage meta-data: %w", err)
	}

	var lastErr error
	for _, tool := range fallbackTools {
		if _, err := exec.LookPath(tool); err != nil {
			lastErr = err
			continue
		}
		cmd := exec.Command(tool,
			"-output", seedPath,
			"-volid", seedVolumeLabel,
			"-joliet", "-rock",
			filepath.Join(scratch, "user-data"),
			filepath.Join(scratch, "meta-data"),
		)
		if output, err := cmd.CombinedOutput(); err != nil {
			lastErr = fmt.Errorf("%s failed: %w\noutput: %s", tool, err, output)
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: tried embedded writer, %v: %v",
		ErrToolMissing, fallbackTools, lastErr)
}
