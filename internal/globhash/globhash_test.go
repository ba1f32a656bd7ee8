package globhash

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHashGlobsIsStable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "recipe.yaml", "package: demo\n")
	writeFile(t, root, "src/main.c", "int main(){}\n")
	writeFile(t, root, "README.md", "ignored\n")

	a, err := HashGlobs(root, []string{"recipe.yaml", "src/**"})
	require.NoError(t, err)
	b, err := HashGlobs(root, []string{"recipe.yaml", "src/**"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashGlobsDetectsContentChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "recipe.yaml", "package: demo\n")

	before, err := HashGlobs(root, []string{"recipe.yaml"})
	require.NoError(t, err)

	writeFile(t, root, "recipe.yaml", "package: demo\nversion: 2\n")
	after, err := HashGlobs(root, []string{"recipe.yaml"})
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestHashGlobsIgnoresUnmatchedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "recipe.yaml", "package: demo\n")

	before, err := HashGlobs(root, []string{"recipe.yaml"})
	require.NoError(t, err)

	writeFile(t, root, "notes.txt", "scratch\n")
	after, err := HashGlobs(root, []string{"recipe.yaml"})
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestHasherCachesByRootAndGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "recipe.yaml", "package: demo\n")

	h := NewHasher()
	first, err := h.Hash(context.Background(), root, []string{"recipe.yaml"})
	require.NoError(t, err)

	// A content change is not observed through the cache: the key is the
	// root + globs, and completed hashes live for the process lifetime.
	writeFile(t, root, "recipe.yaml", "package: demo\nversion: 2\n")
	second, err := h.Hash(context.Background(), root, []string{"recipe.yaml"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Different glob sets are distinct keys.
	third, err := h.Hash(context.Background(), root, []string{"**"})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
