// Package workdir manages the per-build working directories that source
// builds run in. Directories are keyed by fingerprint so concurrent builds of
// the same source on the same platform share one directory, and rebuilds of
// unchanged sources find their previous state.
package workdir

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quarrypm/quarry/internal/keys"
)

// WorkDir is a materialized working directory.
type WorkDir struct {
	Key keys.WorkDirKey
	Dir string
}

// Manager manages working directories on local disk.
type Manager struct {
	baseDir string
	now     func() time.Time
}

// NewManager creates a manager rooted at baseDir.
func NewManager(baseDir string) (*Manager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("work directory base is empty")
	}

	return &Manager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// Ensure returns the working directory for key, creating it if needed. An
// existing directory is returned as-is so incremental build state survives
// across invocations.
func (m *Manager) Ensure(ctx context.Context, key keys.WorkDirKey) (WorkDir, error) {
	if err := ctx.Err(); err != nil {
		return WorkDir{}, err
	}

	path := m.path(key)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return WorkDir{}, fmt.Errorf("create work directory: %w", err)
	}

	return WorkDir{Key: key, Dir: path}, nil
}

// Open returns an existing working directory for key without creating it.
func (m *Manager) Open(ctx context.Context, key keys.WorkDirKey) (WorkDir, error) {
	if err := ctx.Err(); err != nil {
		return WorkDir{}, err
	}

	path := m.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return WorkDir{}, fmt.Errorf("open work directory: %w", err)
	}
	if !info.IsDir() {
		return WorkDir{}, fmt.Errorf("work directory path %q is not a directory", path)
	}

	return WorkDir{Key: key, Dir: path}, nil
}

// Clone seeds a new working directory for dst by hard-linking regular files
// from src's directory. Used when a build for a new platform or backend can
// start from an existing checkout's state.
func (m *Manager) Clone(ctx context.Context, src, dst keys.WorkDirKey) (WorkDir, error) {
	if err := ctx.Err(); err != nil {
		return WorkDir{}, err
	}
	if src.Fingerprint() == dst.Fingerprint() {
		return WorkDir{}, fmt.Errorf("source and destination keys must differ")
	}

	srcDir, err := m.Open(ctx, src)
	if err != nil {
		return WorkDir{}, fmt.Errorf("open source work directory: %w", err)
	}

	dstPath := m.path(dst)
	if _, err := os.Stat(dstPath); err == nil {
		return WorkDir{}, fmt.Errorf("destination work directory already exists")
	} else if !os.IsNotExist(err) {
		return WorkDir{}, fmt.Errorf("stat destination work directory: %w", err)
	}

	if err := m.cloneTreeWithHardLinks(ctx, srcDir.Dir, dstPath); err != nil {
		_ = os.RemoveAll(dstPath)
		return WorkDir{}, fmt.Errorf("clone work directory: %w", err)
	}

	return WorkDir{Key: dst, Dir: dstPath}, nil
}

// Remove deletes the working directory for key, if any.
func (m *Manager) Remove(ctx context.Context, key keys.WorkDirKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.RemoveAll(m.path(key))
}

// CleanupReport summarizes a cleanup pass.
type CleanupReport struct {
	DeletedDirs int
}

// Cleanup removes working directories older than olderThan based on directory
// modification time.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read work directory base: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove work directory %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

// path returns the on-disk location for key. The backend name prefix keeps
// directories recognizable when inspecting the cache by hand.
func (m *Manager) path(key keys.WorkDirKey) string {
	name := key.Fingerprint()
	if key.BackendName != "" {
		name = key.BackendName + "-" + name
	}
	return filepath.Join(m.baseDir, name)
}

func (m *Manager) cloneTreeWithHardLinks(ctx context.Context, srcDir, dstDir string) error {
	srcInfo, err := os.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("stat source directory: %w", err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %q is not a directory", srcDir)
	}

	if err := os.MkdirAll(filepath.Dir(dstDir), 0o755); err != nil {
		return fmt.Errorf("create destination parent: %w", err)
	}
	if err := os.Mkdir(dstDir, srcInfo.Mode().Perm()); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == srcDir {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return fmt.Errorf("resolve relative path: %w", err)
		}
		dstPath := filepath.Join(dstDir, relPath)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("read entry info for %q: %w", path, err)
		}

		switch {
		case d.IsDir():
			if err := os.Mkdir(dstPath, info.Mode().Perm()); err != nil {
				return fmt.Errorf("create directory %q: %w", dstPath, err)
			}
		case info.Mode().IsRegular():
			if err := os.Link(path, dstPath); err != nil {
				return fmt.Errorf("hard-link %q to %q: %w", path, dstPath, err)
			}
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("read symlink %q: %w", path, err)
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return fmt.Errorf("create symlink %q: %w", dstPath, err)
			}
		default:
			return fmt.Errorf("unsupported file type for %q (%s)", path, info.Mode().Type())
		}

		return nil
	})
}
