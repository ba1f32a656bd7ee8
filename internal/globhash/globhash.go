// Package globhash computes a stable content hash over the files matched by
// a set of glob patterns. Build backends declare which input files should
// invalidate cached metadata and build results; the hash of those files is
// what gets compared.
package globhash

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"

	"github.com/quarrypm/quarry/internal/coalesce"
)

// Hasher caches computed glob hashes for the process lifetime. Source trees
// under active edit are keyed by path, so a changed file produces a changed
// hash on the next request only if the caller re-keys; the dispatcher does
// this by including the checkout identity in its cache keys.
type Hasher struct {
	cache *coalesce.Cache[cacheKey, string]
}

type cacheKey struct {
	root  string
	globs string
}

// NewHasher creates an empty hasher.
func NewHasher() *Hasher {
	return &Hasher{cache: coalesce.New[cacheKey, string]()}
}

// Hash returns the hex BLAKE3 hash over all files under root matched by
// globs. Identical concurrent requests share one filesystem walk.
func (h *Hasher) Hash(ctx context.Context, root string, globs []string) (string, error) {
	sorted := make([]string, len(globs))
	copy(sorted, globs)
	sort.Strings(sorted)

	key := cacheKey{root: filepath.Clean(root), globs: strings.Join(sorted, "\x00")}
	return h.cache.GetOrInit(ctx, key, func(ctx context.Context) (string, error) {
		return HashGlobs(key.root, sorted)
	})
}

// HashGlobs computes the hash without caching. Matches are sorted so the
// result is independent of filesystem iteration order; each file contributes
// its relative path and contents.
func HashGlobs(root string, globs []string) (string, error) {
	fsys := os.DirFS(root)

	seen := make(map[string]struct{})
	var matches []string
	for _, pattern := range globs {
		found, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return "", fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range found {
			if _, dup := seen[m]; !dup {
				seen[m] = struct{}{}
				matches = append(matches, m)
			}
		}
	}
	sort.Strings(matches)

	hasher := blake3.New()
	for _, rel := range matches {
		info, err := fs.Stat(fsys, rel)
		if err != nil {
			return "", fmt.Errorf("stat %q: %w", rel, err)
		}
		if info.IsDir() {
			continue
		}
		_, _ = hasher.Write([]byte(rel))
		_, _ = hasher.Write([]byte{0})
		f, err := fsys.Open(rel)
		if err != nil {
			return "", fmt.Errorf("open %q: %w", rel, err)
		}
		if _, err := io.Copy(hasher, f); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("hash %q: %w", rel, err)
		}
		_ = f.Close()
		_, _ = hasher.Write([]byte{0})
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
