package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/cache"
	"github.com/quarrypm/quarry/internal/solve"
	"github.com/quarrypm/quarry/internal/source"
)

// pipelineBackendScript is a minimal backend speaking the stdio protocol,
// good enough to exercise the full metadata and build pipelines.
const pipelineBackendScript = `#!/bin/bash
while IFS= read -r line; do
  id=$(sed -E 's/.*"id":([0-9]+).*/\1/' <<<"$line")
  case "$line" in
    *negotiateCapabilities*)
      echo "{\"id\":$id,\"result\":{\"protocol\":1,\"methods\":[\"initialize\",\"conda/getMetadata\",\"conda/outputs\",\"conda/build_v1\"]}}"
      ;;
    *initialize*)
      echo "{\"id\":$id,\"result\":{\"backend_name\":\"fake-backend\",\"backend_version\":\"1.0.0\"}}"
      ;;
    *getMetadata*)
      echo "{\"id\":$id,\"result\":{\"records\":[{\"name\":\"demo\",\"version\":\"0.1.0\"}],\"input_globs\":[\"quarry.yaml\"]}}"
      ;;
    *build_v1*)
      echo "{\"id\":$id,\"result\":{\"artifacts\":[{\"path\":\"demo-0.1.0.conda\",\"name\":\"demo\",\"version\":\"0.1.0\",\"subdir\":\"linux-64\"}],\"input_globs\":[\"quarry.yaml\"]}}"
      ;;
    *conda/outputs*)
      echo "{\"id\":$id,\"result\":{\"outputs\":[{\"name\":\"demo\",\"version\":\"0.1.0\"}]}}"
      ;;
    *)
      echo "{\"id\":$id,\"error\":{\"code\":1,\"message\":\"unknown method\"}}"
      ;;
  esac
done
`

// expectFakeBackendInstall wires the solver and installer so that
// instantiating the tool environment materializes the fake backend script.
func expectFakeBackendInstall(t *testing.T, s *testSetup) {
	t.Helper()
	s.solver.EXPECT().Solve(gomock.Any(), gomock.Any()).
		Return([]solve.PackageRecord{{Name: "fake-backend", Version: "1.0.0"}}, nil).
		Times(1)
	s.installer.EXPECT().Install(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req solve.InstallRequest) (solve.InstallResult, error) {
			binDir := filepath.Join(req.Prefix, "bin")
			if err := os.MkdirAll(binDir, 0o755); err != nil {
				return solve.InstallResult{}, err
			}
			script := filepath.Join(binDir, "fake-backend")
			if err := os.WriteFile(script, []byte(pipelineBackendScript), 0o755); err != nil {
				return solve.InstallResult{}, err
			}
			return solve.InstallResult{Prefix: req.Prefix, Installed: 1}, nil
		}).
		Times(1)
}

func writePipelineSource(t *testing.T, rootDir string) string {
	t.Helper()
	srcDir := filepath.Join(rootDir, "demo")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	manifest := `package:
  name: demo
  version: "0.1.0"
build:
  backend:
    name: fake-backend
    version: "1.*"
    command: fake-backend
`
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "quarry.yaml"), []byte(manifest), 0o644))
	return srcDir
}

func TestSourceMetadataPipeline(t *testing.T) {
	rootDir := t.TempDir()
	writePipelineSource(t, rootDir)

	s := newTestDispatcher(t, func(b *Builder) { b.WithRootDir(rootDir) })
	expectFakeBackendInstall(t, s)

	spec := SourceMetadataSpec{
		Source:   source.Spec{Path: &source.PathSpec{Path: "demo"}},
		Channels: testChannels(),
		Env:      buildenv.Simple(buildenv.Linux64, nil),
	}

	md, err := s.dispatcher.SourceMetadata(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "fake-backend", md.Backend.BackendName)
	require.Len(t, md.Records, 1)
	assert.Equal(t, "demo", md.Records[0].Name)
	require.Len(t, md.Outputs, 1)
	assert.Equal(t, "demo", md.Outputs[0].Name)
	assert.Equal(t, []string{"quarry.yaml"}, md.InputGlobs)

	// The second identical request is a pure cache hit: no new tool
	// environment, no new backend process.
	again, err := s.dispatcher.SourceMetadata(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, md, again)
}

func TestSourceBuildPipelineAndPersistentCache(t *testing.T) {
	rootDir := t.TempDir()
	writePipelineSource(t, rootDir)
	dirs, err := cache.NewDirs(t.TempDir())
	require.NoError(t, err)

	spec := SourceBuildSpec{
		Source:   source.Spec{Path: &source.PathSpec{Path: "demo"}},
		Channels: testChannels(),
		Env:      buildenv.Simple(buildenv.Linux64, nil),
	}

	first := newTestDispatcher(t, func(b *Builder) {
		b.WithRootDir(rootDir).WithCacheDirs(dirs)
	})
	expectFakeBackendInstall(t, first)

	built, err := first.dispatcher.SourceBuild(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, built.Artifacts, 1)
	assert.Equal(t, "demo", built.Artifacts[0].Name)
	assert.False(t, built.CachedBuild)
	require.NoError(t, first.dispatcher.Close())

	// A fresh dispatcher over the same cache answers from the persistent
	// build cache: the declared input files are unchanged, so no backend
	// runs at all.
	second := newTestDispatcher(t, func(b *Builder) {
		b.WithRootDir(rootDir).WithCacheDirs(dirs)
	})
	cached, err := second.dispatcher.SourceBuild(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, built.Artifacts, cached.Artifacts)
	assert.True(t, cached.CachedBuild)
	require.NoError(t, second.dispatcher.Close())

	// Editing a declared input file invalidates the cached build.
	require.NoError(t, os.WriteFile(filepath.Join(rootDir, "demo", "quarry.yaml"), []byte(`package:
  name: demo
  version: "0.2.0"
build:
  backend:
    name: fake-backend
    version: "1.*"
    command: fake-backend
`), 0o644))

	third := newTestDispatcher(t, func(b *Builder) {
		b.WithRootDir(rootDir).WithCacheDirs(dirs)
	})
	rebuilt, err := third.dispatcher.SourceBuild(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, rebuilt.CachedBuild)
}
