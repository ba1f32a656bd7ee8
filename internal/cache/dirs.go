// Package cache manages the on-disk cache layout and the persistent
// source-build cache.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	buildBackendsDir = "build-backends-v1"
	workDir          = "work-v1"
	gitDir           = "git-v1"
	archivesDir      = "archives-v1"
	sourceBuildsDB   = "source-builds-v1.db"
)

// Dirs derives every cache location from a single root directory. The
// directories themselves are created lazily by their consumers.
type Dirs struct {
	root string
}

// NewDirs creates the cache layout rooted at root. root must be absolute so
// derived paths stay valid regardless of the working directory.
func NewDirs(root string) (Dirs, error) {
	if root == "" {
		return Dirs{}, fmt.Errorf("cache root is empty")
	}
	if !filepath.IsAbs(root) {
		return Dirs{}, fmt.Errorf("cache root %q is not absolute", root)
	}
	return Dirs{root: filepath.Clean(root)}, nil
}

// DefaultRoot returns the per-user cache root.
func DefaultRoot() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("determine user cache directory: %w", err)
	}
	return filepath.Join(base, "quarry"), nil
}

// Root returns the root cache directory.
func (d Dirs) Root() string { return d.root }

// BuildBackends returns the directory holding instantiated build-tool
// environments, keyed by specification hash.
func (d Dirs) BuildBackends() string { return filepath.Join(d.root, buildBackendsDir) }

// WorkDirs returns the directory holding per-source-checkout build working
// directories.
func (d Dirs) WorkDirs() string { return filepath.Join(d.root, workDir) }

// Git returns the directory holding git checkouts, content-addressed by
// commit.
func (d Dirs) Git() string { return filepath.Join(d.root, gitDir) }

// Archives returns the directory holding extracted url archives,
// content-addressed by their hash.
func (d Dirs) Archives() string { return filepath.Join(d.root, archivesDir) }

// SourceBuildsDB returns the path of the persistent source-build cache
// database.
func (d Dirs) SourceBuildsDB() string { return filepath.Join(d.root, sourceBuildsDB) }
