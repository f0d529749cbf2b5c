// Package image fetches, extracts, and resizes base disk images.
package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrProvisioning wraps download, extract, and resize failures.
var ErrProvisioning = errors.New("image provisioning failed")

// archiveSuffixes are the compressed-archive source shapes handled by
// extraction; anything else is treated as a direct disk-image URL.
var archiveSuffixes = []string{".tar.gz", ".tgz", ".tar.xz", ".tar.zst", ".tar.bz2", ".tar", ".zip"}

// imageSuffixes identify disk-image files inside an extracted archive.
var imageSuffixes = []string{".qcow2", ".img", ".raw"}

// Provisioner downloads base images and shapes them with qemu-img.
type Provisioner struct {
	// Client is the HTTP client used for downloads. Defaults to
	// http.DefaultClient.
	Client *http.Client
}

// New returns a Provisioner with default settings.
func New() *Provisioner {
	return &Provisioner{Client: http.DefaultClient}
}

// Ensure fetches the image at url to target and grows it to size. Direct
// image URLs are downloaded and renamed atomically into place; archive URLs
// are downloaded to scratch, extracted, and scanned for exactly one
// image-typed file. Zero or multiple candidates is an error: the provisioner
// never silently picks one of several images.
func (p *Provisioner) Ensure(ctx context.Context, url, target, size string) error {
	if isArchiveURL(url) {
		if err := p.fetchArchive(ctx, url, target); err != nil {
			return err
		}
	} else {
		if err := p.fetchDirect(ctx, url, target); err != nil {
			return err
		}
	}
	return p.Resize(target, size)
}

func isArchiveURL(url string) bool {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(url, suffix) {
			return true
		}
	}
	return false
}

// fetchDirect downloads url to target via a partial file and atomic rename.
func (p *Provisioner) fetchDirect(ctx context.Context, url, target string) error {
	partial := target + ".partial"
	if err := p.download(ctx, url, partial); err != nil {
		return err
	}
	if err := os.Rename(partial, target); err != nil {
		return fmt.Errorf("%w: failed to move image into place: %v", ErrProvisioning, err)
	}
	return nil
}

// fetchArchive downloads an archive, extracts it into a scratch directory,
// and moves the single contained image to target. The scratch directory is
// removed unconditionally.
func (p *Provisioner) fetchArchive(ctx context.Context, url, target string) error {
	scratch, err := os.MkdirTemp("", "bellows-image-")
	if err != nil {
		return fmt.Errorf("%w: failed to create scratch directory: %v", ErrProvisioning, err)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	archivePath := filepath.Join(scratch, "archive"+archiveExt(url))
	if err := p.download(ctx, url, archivePath); err != nil {
		return err
	}

	extractDir := filepath.Join(scratch, "extracted")
	if err := os.Mkdir(extractDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	if err := extract(ctx, archivePath, extractDir); err != nil {
		return err
	}

	found, err := locateImage(extractDir)
	if err != nil {
		return err
	}

	// Rename only works within a filesystem; the scratch dir may be on
	// another one, so copy-and-rename next to the target instead.
	partial := target + ".partial"
	if err := copyFile(found, partial); err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	if err := os.Rename(partial, target); err != nil {
		return fmt.Errorf("%w: failed to move image into place: %v", ErrProvisioning, err)
	}
	return nil
}

func archiveExt(url string) string {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(url, suffix) {
			return suffix
		}
	}
	return filepath.Ext(url)
}

func (p *Provisioner) download(ctx context.Context, url, dest string) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", ErrProvisioning, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download %s: unexpected status %s", ErrProvisioning, url, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("%w: download %s: %v", ErrProvisioning, url, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	return nil
}

// extract unpacks an archive with bsdtar when available, else tar. Both
// handle every compression variant in archiveSuffixes (bsdtar also reads
// zip).
func extract(ctx context.Context, archivePath, destDir string) error {
	tool := "tar"
	if _, err := exec.LookPath("bsdtar"); err == nil {
		tool = "bsdtar"
	}

	var cmd *exec.Cmd
	switch {
	case strings.HasSuffix(archivePath, ".zip") && tool == "tar":
		// Plain tar cannot read zip archives.
		if _, err := exec.LookPath("unzip"); err != nil {
			return fmt.Errorf("%w: zip archive needs bsdtar or unzip", ErrProvisioning)
		}
		cmd = exec.CommandContext(ctx, "unzip", "-q", archivePath, "-d", destDir)
	case strings.HasSuffix(archivePath, ".tar.zst"):
		cmd = exec.CommandContext(ctx, tool, "--zstd", "-xf", archivePath, "-C", destDir)
	default:
		// tar -xf autodetects gzip, xz, and bzip2.
		cmd = exec.CommandContext(ctx, tool, "-xf", archivePath, "-C", destDir)
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: extract %s: %v\noutput: %s", ErrProvisioning, archivePath, err, output)
	}
	return nil
}

// locateImage scans dir recursively for image-typed files. Exactly one match
// is required.
func locateImage(dir string) (string, error) {
	var matches []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, suffix := range imageSuffixes {
			if strings.HasSuffix(d.Name(), suffix) {
				matches = append(matches, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: scan extracted archive: %v", ErrProvisioning, err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: archive contains no disk image", ErrProvisioning)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: archive contains %d disk images, cannot pick one: %v",
			ErrProvisioning, len(matches), matches)
	}
}

// Resize grows the image at path to size with qemu-img. When an in-place
// resize fails (formats that cannot simply grow), it falls back to building
// a replacement image of the requested size, preferring a copy-on-write
// overlay of the original. The fallback discards existing on-disk
// modifications, which is reported loudly.
func (p *Provisioner) Resize(path, size string) error {
	cmd := exec.Command("qemu-img", "resize", path, size)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	log.Warn().Str("image", path).Str("size", size).
		Msg("in-place resize failed; rebuilding image — existing on-disk modifications will be DISCARDED")
	log.Debug().Str("output", string(output)).Msg("qemu-img resize output")

	backing := path + ".base"
	if err := os.Rename(path, backing); err != nil {
		return fmt.Errorf("%w: resize fallback: %v", ErrProvisioning, err)
	}

	cmd = exec.Command("qemu-img", "create", "-f", "qcow2", "-b", backing, "-F", "qcow2", path, size)
	if _, err := cmd.CombinedOutput(); err == nil {
		return nil
	}

	// Last resort: a fresh empty image of the requested size.
	cmd = exec.Command("qemu-img", "create", "-f", "qcow2", path, size)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: failed to create replacement image %s: %v\noutput: %s",
			ErrProvisioning, path, err, output)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
