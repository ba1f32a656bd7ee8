package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/protocol"
)

func openTestCache(t *testing.T) *BuildCache {
	t.Helper()
	c, err := OpenBuildCache(context.Background(), filepath.Join(t.TempDir(), "builds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBuildCacheRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	entry := BuildEntry{
		Fingerprint: "abc123",
		Artifacts: []protocol.BuiltArtifact{
			{Path: "/cache/archives/foo-1.0.conda", Name: "foo", Version: "1.0", Subdir: buildenv.Linux64},
		},
		InputGlobs: []string{"src/**", "recipe.yaml"},
		InputHash:  "deadbeef",
	}
	require.NoError(t, c.Put(ctx, entry))

	got, err := c.Get(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Artifacts, got.Artifacts)
	assert.Equal(t, entry.InputGlobs, got.InputGlobs)
	assert.Equal(t, "deadbeef", got.InputHash)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestBuildCacheMissReturnsNil(t *testing.T) {
	c := openTestCache(t)

	got, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBuildCachePutReplaces(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, BuildEntry{Fingerprint: "k", InputHash: "old"}))
	require.NoError(t, c.Put(ctx, BuildEntry{Fingerprint: "k", InputHash: "new"}))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.InputHash)
}

func TestBuildCacheDelete(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, BuildEntry{Fingerprint: "k", InputHash: "h"}))
	require.NoError(t, c.Delete(ctx, "k"))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBuildCachePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "builds.db")
	ctx := context.Background()

	c1, err := OpenBuildCache(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c1.Put(ctx, BuildEntry{Fingerprint: "k", InputHash: "h"}))
	require.NoError(t, c1.Close())

	c2, err := OpenBuildCache(ctx, path)
	require.NoError(t, err)
	defer c2.Close()

	got, err := c2.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h", got.InputHash)
}
