package source

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// maxArchiveEntrySize caps a single extracted file to keep a hostile archive
// from filling the disk.
const maxArchiveEntrySize = 4 << 30

// FetchURL downloads a source archive, verifies (or computes) its BLAKE3
// content hash, and extracts it into the content-addressed archive cache.
func (r *Resolver) FetchURL(ctx context.Context, spec URLSpec) (Checkout, error) {
	// A known hash lets us skip the download entirely on a warm cache.
	if spec.Blake3 != "" {
		pinned := Pinned{URL: &PinnedURL{URL: spec.URL, Blake3: spec.Blake3}}
		dir := filepath.Join(r.dirs.Archives(), checkoutDirName(pinned))
		if _, err := os.Stat(filepath.Join(dir, completeSentinel)); err == nil {
			return Checkout{Path: dir, Pinned: pinned}, nil
		}
	}

	r.logger.Info("fetching url source", "url", spec.URL)

	archive, hash, err := r.download(ctx, spec.URL)
	if err != nil {
		return Checkout{}, err
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	if spec.Blake3 != "" && !strings.EqualFold(spec.Blake3, hash) {
		return Checkout{}, fmt.Errorf("checksum mismatch for %s: expected %s, got %s", spec.URL, spec.Blake3, hash)
	}

	pin := PinnedURL{URL: spec.URL, Blake3: hash}
	pinned := Pinned{URL: &pin}
	dir := filepath.Join(r.dirs.Archives(), checkoutDirName(pinned))

	if _, err := os.Stat(filepath.Join(dir, completeSentinel)); err == nil {
		return Checkout{Path: dir, Pinned: pinned}, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return Checkout{}, fmt.Errorf("clear stale archive dir: %w", err)
	}

	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return Checkout{}, fmt.Errorf("rewind archive: %w", err)
	}
	if err := extractTarGz(archive, dir); err != nil {
		_ = os.RemoveAll(dir)
		return Checkout{}, fmt.Errorf("extract %s: %w", spec.URL, err)
	}
	if err := os.WriteFile(filepath.Join(dir, completeSentinel), nil, 0o644); err != nil {
		return Checkout{}, fmt.Errorf("mark archive complete: %w", err)
	}
	return Checkout{Path: dir, Pinned: pinned}, nil
}

// download streams the body to a temp file while hashing it, so large
// archives never live in memory.
func (r *Resolver) download(ctx context.Context, url string) (*os.File, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "quarry-archive-*")
	if err != nil {
		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	hasher := blake3.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	return tmp, hex.EncodeToString(hasher.Sum(nil)), nil
}

// extractTarGz unpacks a gzip-compressed tarball under dst, refusing entries
// that would escape it.
func extractTarGz(r io.Reader, dst string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target, err := secureJoin(dst, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent of %s: %w", hdr.Name, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("create file %s: %w", hdr.Name, err)
			}
			if _, err := io.Copy(f, io.LimitReader(tr, maxArchiveEntrySize)); err != nil {
				_ = f.Close()
				return fmt.Errorf("write file %s: %w", hdr.Name, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close file %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent of %s: %w", hdr.Name, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("create symlink %s: %w", hdr.Name, err)
			}
		default:
			// Other entry types (devices, fifos) have no business in a
			// source archive.
			continue
		}
	}
}

// secureJoin joins name under dst and rejects traversal outside it.
func secureJoin(dst, name string) (string, error) {
	target := filepath.Join(dst, filepath.Clean("/"+name))
	if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) && target != filepath.Clean(dst) {
		return "", fmt.Errorf("archive entry %q escapes extraction root", name)
	}
	return target, nil
}
