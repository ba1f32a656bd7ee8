package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/solve"
	"github.com/quarrypm/quarry/internal/source"
)

func TestWorkDirKeyAsymmetry(t *testing.T) {
	// Immutable sources are content-addressed: the on-disk location does not
	// matter, only the pin.
	immutableA := WorkDirKey{
		Checkout:     source.Pinned{Git: &source.PinnedGit{URL: "https://example.com/pkg.git", Commit: "abc123"}},
		HostPlatform: buildenv.Linux64,
		BackendName:  "quarry-build-cmake",
	}
	immutableB := immutableA
	assert.Equal(t, immutableA.Fingerprint(), immutableB.Fingerprint())

	// Mutable path sources are addressed by location: the same path always
	// yields the same key even though the contents may differ over time, and
	// two distinct paths never share a work directory.
	pathA := WorkDirKey{
		Checkout:     source.Pinned{Path: &source.PinnedPath{Path: "/repo/a"}},
		HostPlatform: buildenv.Linux64,
		BackendName:  "quarry-build-cmake",
	}
	pathB := WorkDirKey{
		Checkout:     source.Pinned{Path: &source.PinnedPath{Path: "/repo/b"}},
		HostPlatform: buildenv.Linux64,
		BackendName:  "quarry-build-cmake",
	}
	assert.NotEqual(t, pathA.Fingerprint(), pathB.Fingerprint())
}

func TestWorkDirKeyDependsOnPlatformAndBackend(t *testing.T) {
	base := WorkDirKey{
		Checkout:     source.Pinned{Git: &source.PinnedGit{URL: "https://example.com/pkg.git", Commit: "abc123"}},
		HostPlatform: buildenv.Linux64,
		BackendName:  "quarry-build-cmake",
	}

	otherPlatform := base
	otherPlatform.HostPlatform = buildenv.OsxArm64
	assert.NotEqual(t, base.Fingerprint(), otherPlatform.Fingerprint())

	otherBackend := base
	otherBackend.BackendName = "quarry-build-python"
	assert.NotEqual(t, base.Fingerprint(), otherBackend.Fingerprint())
}

func TestSolveKeyNormalizesSpecOrder(t *testing.T) {
	channels := solve.ChannelConfig{Channels: []solve.Channel{{Name: "main", URL: "https://repo.example.com/main"}}}

	a := SolveKey{Problem: solve.Problem{
		Specs:    []solve.MatchSpec{{Name: "python", Version: ">=3.11"}, {Name: "cmake"}},
		Channels: channels,
		Platform: buildenv.Linux64,
	}}
	b := SolveKey{Problem: solve.Problem{
		Specs:    []solve.MatchSpec{{Name: "cmake"}, {Name: "python", Version: ">=3.11"}},
		Channels: channels,
		Platform: buildenv.Linux64,
	}}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestSolveKeyChannelOrderIsSignificant(t *testing.T) {
	a := SolveKey{Problem: solve.Problem{
		Specs: []solve.MatchSpec{{Name: "python"}},
		Channels: solve.ChannelConfig{Channels: []solve.Channel{
			{Name: "main", URL: "https://a"},
			{Name: "extra", URL: "https://b"},
		}},
		Platform: buildenv.Linux64,
	}}
	b := SolveKey{Problem: solve.Problem{
		Specs: []solve.MatchSpec{{Name: "python"}},
		Channels: solve.ChannelConfig{Channels: []solve.Channel{
			{Name: "extra", URL: "https://b"},
			{Name: "main", URL: "https://a"},
		}},
		Platform: buildenv.Linux64,
	}}

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestToolEnvKeyFingerprintNamesThePrefix(t *testing.T) {
	key := ToolEnvKey{
		Requirement: solve.MatchSpec{Name: "quarry-build-cmake", Version: ">=0.1"},
		Platform:    buildenv.Linux64,
		Command:     "quarry-build-cmake",
	}

	fp := key.Fingerprint()
	assert.Contains(t, fp, "quarry-build-cmake-")

	other := key
	other.Command = "something-else"
	assert.NotEqual(t, fp, other.Fingerprint())
}

func TestDiscoveryKeyDependsOnProtocols(t *testing.T) {
	base := DiscoveryKey{SourcePath: "/repo", Protocols: AllProtocols()}
	recipeOnly := DiscoveryKey{SourcePath: "/repo", Protocols: ProtocolSet{Recipe: true}}

	assert.NotEqual(t, base.Fingerprint(), recipeOnly.Fingerprint())
}

func TestCheckoutCacheDirAsymmetry(t *testing.T) {
	gitPin := source.Pinned{Git: &source.PinnedGit{URL: "https://example.com/pkg.git", Commit: "abc123"}}
	pathPin := source.Pinned{Path: &source.PinnedPath{Path: "/home/dev/pkg"}}

	assert.True(t, gitPin.Immutable())
	assert.False(t, pathPin.Immutable())
	assert.NotEqual(t, CheckoutCacheDir(gitPin), CheckoutCacheDir(pathPin))
	// Stable across calls.
	assert.Equal(t, CheckoutCacheDir(gitPin), CheckoutCacheDir(gitPin))
}
