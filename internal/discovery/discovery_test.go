package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrypm/quarry/internal/keys"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDiscoverWorkspaceManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, WorkspaceManifest, `
package:
  name: demo
  version: 0.1.0
build:
  backend:
    name: quarry-build-cmake
    version: ">=0.5"
  additional-dependencies:
    - "ninja >=1.11"
  config:
    generator: Ninja
`)

	b, err := Discover(dir, keys.AllProtocols())
	require.NoError(t, err)

	require.NotNil(t, b.Spec.Isolated)
	assert.Equal(t, "quarry-build-cmake", b.Spec.Isolated.Requirement.Name)
	assert.Equal(t, ">=0.5", b.Spec.Isolated.Requirement.Version)
	require.Len(t, b.Spec.Isolated.Extra, 1)
	assert.Equal(t, "ninja", b.Spec.Isolated.Extra[0].Name)
	assert.Equal(t, "Ninja", b.Config["generator"])
	assert.Equal(t, filepath.Join(dir, WorkspaceManifest), b.ManifestPath)
	assert.Equal(t, dir, b.SourceDir)
}

func TestDiscoverFallsBackToRecipe(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, RecipeManifest, "package:\n  name: demo\n")

	b, err := Discover(dir, keys.AllProtocols())
	require.NoError(t, err)

	require.NotNil(t, b.Spec.Isolated)
	assert.Equal(t, "quarry-build-recipe", b.Spec.Isolated.Requirement.Name)
	assert.Equal(t, filepath.Join(dir, RecipeManifest), b.ManifestPath)
}

func TestDiscoverWorkspaceTakesPriority(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, RecipeManifest, "package:\n  name: demo\n")
	writeManifest(t, dir, WorkspaceManifest, `
build:
  backend:
    name: quarry-build-python
`)

	b, err := Discover(dir, keys.AllProtocols())
	require.NoError(t, err)
	assert.Equal(t, "quarry-build-python", b.Spec.Isolated.Requirement.Name)
}

func TestDiscoverHonorsProtocolSet(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, WorkspaceManifest, `
build:
  backend:
    name: quarry-build-cmake
`)

	// Workspace protocol disabled: the manifest present on disk is ignored.
	_, err := Discover(dir, keys.ProtocolSet{Recipe: true})
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestDiscoverNoBackend(t *testing.T) {
	_, err := Discover(t.TempDir(), keys.AllProtocols())
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestDiscoverRejectsManifestWithoutBackendName(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, WorkspaceManifest, "package:\n  name: demo\n")

	_, err := Discover(dir, keys.AllProtocols())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build.backend.name")
}

func TestDiscoverRejectsFileSource(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "stray.yaml", "x: 1\n")

	_, err := Discover(filepath.Join(dir, "stray.yaml"), keys.AllProtocols())
	assert.Error(t, err)
}
