// Package keys defines the composite cache-key values the dispatcher
// deduplicates work by. Every key is a pure value: hashable, comparable, and
// without ownership over the resource it names.
package keys

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/solve"
	"github.com/quarrypm/quarry/internal/source"
)

// fingerprint hashes canonical text with BLAKE3 and returns a short hex form
// suitable for map keys and directory names.
func fingerprint(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

// DiscoveryKey identifies one build-backend discovery request: the canonical
// source path, the set of enabled discovery protocols, and the channel
// configuration the discovered backend will resolve against.
type DiscoveryKey struct {
	SourcePath string
	Protocols  ProtocolSet
	Channels   solve.ChannelConfig
}

// ProtocolSet enables or disables individual discovery protocols.
type ProtocolSet struct {
	Workspace bool
	Recipe    bool
}

// AllProtocols enables every discovery protocol.
func AllProtocols() ProtocolSet {
	return ProtocolSet{Workspace: true, Recipe: true}
}

func (p ProtocolSet) text() string {
	var parts []string
	if p.Workspace {
		parts = append(parts, "workspace")
	}
	if p.Recipe {
		parts = append(parts, "recipe")
	}
	return strings.Join(parts, "+")
}

// Fingerprint returns the stable identity of the key.
func (k DiscoveryKey) Fingerprint() string {
	return fingerprint(strings.Join([]string{
		"discovery-v1",
		k.SourcePath,
		k.Protocols.text(),
		k.Channels.FingerprintText(),
	}, "\n"))
}

// WorkDirKey identifies the working directory a source build runs in.
// Concurrent builds with the same key share one directory, so the key must
// capture everything that makes build inputs distinct: the source checkout
// identity, the platform the output targets, and the backend producing it.
//
// The checkout identity is the pin for immutable sources and the on-disk path
// for mutable ones; see source.Pinned.Identity for why the asymmetry matters.
type WorkDirKey struct {
	Checkout     source.Pinned
	HostPlatform buildenv.Platform
	BackendName  string
}

// Fingerprint returns the stable identity of the key, usable as a directory
// name under the work cache.
func (k WorkDirKey) Fingerprint() string {
	return fingerprint(strings.Join([]string{
		"workdir-v1",
		k.Checkout.Identity(),
		string(k.HostPlatform),
		k.BackendName,
	}, "\n"))
}

// ToolEnvKey identifies an instantiated build-tool environment by the
// installable specification that produces it.
type ToolEnvKey struct {
	Requirement solve.MatchSpec
	Extra       []solve.MatchSpec
	Channels    solve.ChannelConfig
	Platform    buildenv.Platform
	Command     string
}

// Fingerprint returns "{name}-{hash}" so cached prefixes stay recognizable on
// disk while remaining unique per full specification.
func (k ToolEnvKey) Fingerprint() string {
	extra := make([]string, 0, len(k.Extra))
	for _, spec := range k.Extra {
		extra = append(extra, spec.String())
	}
	sort.Strings(extra)

	hash := fingerprint(strings.Join([]string{
		"toolenv-v1",
		k.Requirement.String(),
		strings.Join(extra, ";"),
		k.Channels.FingerprintText(),
		string(k.Platform),
		k.Command,
	}, "\n"))
	return fmt.Sprintf("%s-%s", k.Requirement.Name, hash)
}

// SolveKey identifies a solve request by its full problem statement.
type SolveKey struct {
	Problem solve.Problem
}

// Fingerprint returns the stable identity of the solve. Spec order within the
// problem is normalized so equivalent requests coalesce.
func (k SolveKey) Fingerprint() string {
	specs := make([]string, 0, len(k.Problem.Specs))
	for _, s := range k.Problem.Specs {
		specs = append(specs, s.String())
	}
	sort.Strings(specs)

	extra := make([]string, 0, len(k.Problem.ExtraRecords))
	for _, r := range k.Problem.ExtraRecords {
		extra = append(extra, r.Name+"="+r.Version+"="+r.Build)
	}
	sort.Strings(extra)

	env := buildenv.BuildEnvironment{
		HostPlatform:        k.Problem.Platform,
		HostVirtualPackages: k.Problem.VirtualPkgs,
		BuildPlatform:       k.Problem.Platform,
	}

	return fingerprint(strings.Join([]string{
		"solve-v1",
		k.Problem.Name,
		strings.Join(specs, ";"),
		strings.Join(extra, ";"),
		k.Problem.Channels.FingerprintText(),
		env.FingerprintText(),
	}, "\n"))
}

// CheckoutCacheDir returns the directory name a pinned source is materialized
// under. Immutable pins are content-addressed; mutable pins are addressed by
// location so edits are always picked up on the next build.
func CheckoutCacheDir(pin source.Pinned) string {
	return fingerprint("checkout-v1\n" + pin.Identity())
}

// HashText is a helper for callers that need a raw fingerprint of canonical
// text in the same format as the key types.
func HashText(text string) string {
	return fingerprint(text)
}
