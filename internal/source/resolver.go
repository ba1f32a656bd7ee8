package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/quarrypm/quarry/internal/cache"
	"github.com/quarrypm/quarry/internal/log"
)

// Resolver pins source specifications to exact revisions and materializes
// them on disk. Git and url sources land in content-addressed cache
// directories; local paths are used in place.
type Resolver struct {
	dirs    cache.Dirs
	rootDir string
	client  *http.Client
	logger  *slog.Logger
}

// NewResolver creates a resolver. rootDir anchors relative path sources and
// must be absolute.
func NewResolver(dirs cache.Dirs, rootDir string, client *http.Client) (*Resolver, error) {
	if !filepath.IsAbs(rootDir) {
		return nil, fmt.Errorf("root directory %q is not absolute", rootDir)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		dirs:    dirs,
		rootDir: filepath.Clean(rootDir),
		client:  client,
		logger:  log.WithComponent("source"),
	}, nil
}

// PinAndCheckout resolves a mutable source specification to an exact revision
// and a local checkout directory.
func (r *Resolver) PinAndCheckout(ctx context.Context, spec Spec) (Checkout, error) {
	if err := spec.Validate(); err != nil {
		return Checkout{}, err
	}
	switch {
	case spec.Path != nil:
		return r.checkoutPath(spec.Path.Path)
	case spec.Git != nil:
		pin, err := r.PinGit(ctx, *spec.Git)
		if err != nil {
			return Checkout{}, err
		}
		return r.CheckoutGit(ctx, pin)
	case spec.URL != nil:
		return r.FetchURL(ctx, *spec.URL)
	default:
		return Checkout{}, fmt.Errorf("source spec must set exactly one of git, url, path")
	}
}

// CheckoutPinned materializes an already pinned source revision. Unlike
// PinAndCheckout no reference resolution happens; the exact revision is
// fetched directly.
func (r *Resolver) CheckoutPinned(ctx context.Context, pin Pinned) (Checkout, error) {
	switch {
	case pin.Path != nil:
		return r.checkoutPath(pin.Path.Path)
	case pin.Git != nil:
		return r.CheckoutGit(ctx, *pin.Git)
	case pin.URL != nil:
		return r.FetchURL(ctx, URLSpec{URL: pin.URL.URL, Blake3: pin.URL.Blake3})
	default:
		return Checkout{}, fmt.Errorf("pinned source spec is empty")
	}
}

// Lazy returns a checkout wrapper that defers the fetch until first use while
// keeping the pin available for cache-key computation.
func (r *Resolver) Lazy(pin Pinned) *LazyCheckout {
	return NewLazyCheckout(pin, func(ctx context.Context) (Checkout, error) {
		return r.CheckoutPinned(ctx, pin)
	})
}

// checkoutPath resolves a local path source in place. The checkout directory
// is the source directory itself: contents under active edit must be picked
// up by every build, so nothing is copied or cached.
func (r *Resolver) checkoutPath(path string) (Checkout, error) {
	resolved, err := r.resolvePath(path)
	if err != nil {
		return Checkout{}, err
	}
	return Checkout{
		Path:   resolved,
		Pinned: Pinned{Path: &PinnedPath{Path: resolved}},
	}, nil
}

// resolvePath anchors relative paths at the resolver root and normalizes away
// "." and "..". It does not require the path to exist and never follows
// symlinks.
func (r *Resolver) resolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path source is empty")
	}
	var joined string
	if filepath.IsAbs(path) {
		joined = filepath.Clean(path)
	} else {
		joined = filepath.Join(r.rootDir, path)
		rel, err := filepath.Rel(r.rootDir, joined)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path source %q escapes the workspace root", path)
		}
	}
	return joined, nil
}
