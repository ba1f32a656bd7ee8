// Package discovery locates the build backend responsible for a source tree
// by scanning its manifest files.
//
// Two discovery protocols exist: the workspace protocol reads a quarry.yaml
// manifest with an explicit build section, and the recipe protocol falls back
// to a recipe.yaml handled by the generic recipe backend. Scanning is plain
// blocking filesystem work; callers coalesce and cache it per discovery key.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/quarrypm/quarry/internal/backend"
	"github.com/quarrypm/quarry/internal/keys"
	"github.com/quarrypm/quarry/internal/solve"
)

const (
	// WorkspaceManifest is the name of the workspace-protocol manifest file.
	WorkspaceManifest = "quarry.yaml"

	// RecipeManifest is the name of the recipe-protocol manifest file.
	RecipeManifest = "recipe.yaml"

	// recipeBackendName is the backend handling bare recipes.
	recipeBackendName = "quarry-build-recipe"
)

// ErrNoBackend is returned when no enabled protocol matches the source tree.
var ErrNoBackend = errors.New("no build backend found")

// Backend is a discovered build backend together with everything needed to
// initialize it.
type Backend struct {
	// Spec tells the dispatcher how to host the backend.
	Spec backend.Spec

	// ManifestPath is the absolute path of the manifest that named it.
	ManifestPath string

	// SourceDir is the absolute source tree root.
	SourceDir string

	// Config is opaque backend-specific configuration passed through
	// initialize verbatim.
	Config map[string]any

	// Channels optionally override the channel configuration for resolving
	// the backend's own environment.
	Channels []solve.Channel
}

// workspaceManifest mirrors the build-relevant subset of quarry.yaml.
type workspaceManifest struct {
	Package struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"package"`
	Build struct {
		Backend struct {
			Name    string `yaml:"name"`
			Version string `yaml:"version"`
			Command string `yaml:"command"`
		} `yaml:"backend"`
		Extra    []string        `yaml:"additional-dependencies"`
		Channels []solve.Channel `yaml:"channels"`
		Config   map[string]any  `yaml:"config"`
	} `yaml:"build"`
}

// Discover scans sourcePath for a backend, trying enabled protocols in
// priority order: workspace manifest first, then recipe.
func Discover(sourcePath string, protocols keys.ProtocolSet) (*Backend, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("stat source path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path %q is not a directory", sourcePath)
	}

	if protocols.Workspace {
		manifest := filepath.Join(sourcePath, WorkspaceManifest)
		if _, err := os.Stat(manifest); err == nil {
			return discoverWorkspace(sourcePath, manifest)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", manifest, err)
		}
	}

	if protocols.Recipe {
		manifest := filepath.Join(sourcePath, RecipeManifest)
		if _, err := os.Stat(manifest); err == nil {
			return &Backend{
				Spec: backend.Spec{
					Isolated: &backend.IsolatedSpec{
						Requirement: solve.MatchSpec{Name: recipeBackendName},
					},
				},
				ManifestPath: manifest,
				SourceDir:    sourcePath,
			}, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", manifest, err)
		}
	}

	return nil, fmt.Errorf("%w in %s", ErrNoBackend, sourcePath)
}

func discoverWorkspace(sourcePath, manifestPath string) (*Backend, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", manifestPath, err)
	}

	var m workspaceManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
	}
	if m.Build.Backend.Name == "" {
		return nil, fmt.Errorf("%s has no build.backend.name", manifestPath)
	}

	extra := make([]solve.MatchSpec, 0, len(m.Build.Extra))
	for _, raw := range m.Build.Extra {
		spec, err := solve.ParseMatchSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("parse additional dependency %q: %w", raw, err)
		}
		extra = append(extra, spec)
	}

	return &Backend{
		Spec: backend.Spec{
			Isolated: &backend.IsolatedSpec{
				Requirement: solve.MatchSpec{
					Name:    m.Build.Backend.Name,
					Version: m.Build.Backend.Version,
				},
				Extra:   extra,
				Command: m.Build.Backend.Command,
			},
		},
		ManifestPath: manifestPath,
		SourceDir:    sourcePath,
		Config:       m.Build.Config,
		Channels:     m.Build.Channels,
	}, nil
}
