package dispatch

import (
	"context"
	"fmt"

	"github.com/quarrypm/quarry/internal/cache"
	"github.com/quarrypm/quarry/internal/keys"
	"github.com/quarrypm/quarry/internal/protocol"
	"github.com/quarrypm/quarry/internal/source"
)

func (p *processor) handleBuild(m *buildMsg) {
	spec := m.spec

	dispatchTask(p, &p.builds, spec.cacheKey(), m.meta, m.reply,
		func(ctx context.Context, child *Dispatcher) (*BuiltSource, error) {
			if err := p.limits.Builds.acquire(ctx); err != nil {
				return nil, err
			}
			defer p.limits.Builds.release()

			return p.buildSource(ctx, child, spec)
		})
}

func (p *processor) buildSource(ctx context.Context, child *Dispatcher, spec SourceBuildSpec) (*BuiltSource, error) {
	checkout, err := child.PinAndCheckout(ctx, spec.Source)
	if err != nil {
		return nil, fmt.Errorf("checkout %s: %w", spec.Source, err)
	}

	b, err := child.DiscoverBackend(ctx, checkout.Path, spec.Protocols, spec.Channels)
	if err != nil {
		return nil, fmt.Errorf("discover backend for %s: %w", spec.Source, err)
	}

	fingerprint := p.buildFingerprint(checkout, b.Spec.Name(), spec)

	if built := p.cachedBuild(ctx, fingerprint, checkout); built != nil {
		return built, nil
	}

	wd, err := p.workdirs.Ensure(ctx, keys.WorkDirKey{
		Checkout:     checkout.Pinned,
		HostPlatform: spec.Env.HostPlatform,
		BackendName:  b.Spec.Name(),
	})
	if err != nil {
		return nil, err
	}

	client, err := p.openBackend(ctx, child, b, backendChannels(b, spec.Channels), spec.Env.BuildPlatform)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	result, err := client.Build(ctx, protocol.BuildParams{
		Output:        spec.Output,
		WorkDir:       wd.Dir,
		BuildPlatform: protocolPlatform(spec.Env.BuildPlatform, spec.Env.BuildVirtualPackages),
		HostPlatform:  protocolPlatform(spec.Env.HostPlatform, spec.Env.HostVirtualPackages),
		Channels:      spec.Channels.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s with %s: %w", spec.displayName(), b.Spec.Name(), err)
	}

	p.storeBuild(ctx, fingerprint, checkout, result)

	return &BuiltSource{Checkout: checkout, Artifacts: result.Artifacts}, nil
}

// buildFingerprint keys the persistent build cache. It goes beyond the
// work-directory key: the requested output and full build environment matter
// for the produced artifacts even when they share a work directory.
func (p *processor) buildFingerprint(checkout source.Checkout, backendName string, spec SourceBuildSpec) string {
	output := ""
	if spec.Output != nil {
		output = fmt.Sprintf("%s=%s=%s=%s", spec.Output.Name, spec.Output.Version, spec.Output.Build, spec.Output.Subdir)
	}
	return keys.HashText(fmt.Sprintf("built-v1\n%s\n%s\n%s\n%s\n%s",
		checkout.Pinned.Identity(),
		backendName,
		output,
		spec.Channels.FingerprintText(),
		spec.Env.FingerprintText()))
}

// cachedBuild answers from the persistent cache when the backend-declared
// input files are unchanged. For immutable checkouts the pin alone proves
// freshness; mutable ones are re-hashed.
func (p *processor) cachedBuild(ctx context.Context, fingerprint string, checkout source.Checkout) *BuiltSource {
	if p.buildCache == nil {
		return nil
	}
	entry, err := p.buildCache.Get(ctx, fingerprint)
	if err != nil || entry == nil {
		return nil
	}

	if !checkout.Pinned.Immutable() && len(entry.InputGlobs) > 0 {
		hash, err := p.globs.Hash(ctx, checkout.Path, entry.InputGlobs)
		if err != nil || hash != entry.InputHash {
			return nil
		}
	}

	return &BuiltSource{Checkout: checkout, Artifacts: entry.Artifacts, CachedBuild: true}
}

func (p *processor) storeBuild(ctx context.Context, fingerprint string, checkout source.Checkout, result *protocol.BuildResult) {
	if p.buildCache == nil {
		return
	}

	entry := cache.BuildEntry{
		Fingerprint: fingerprint,
		Artifacts:   result.Artifacts,
		InputGlobs:  result.InputGlobs,
	}
	if !checkout.Pinned.Immutable() && len(result.InputGlobs) > 0 {
		hash, err := p.globs.Hash(ctx, checkout.Path, result.InputGlobs)
		if err != nil {
			return
		}
		entry.InputHash = hash
	}

	// A failed cache write costs a rebuild next time, nothing more.
	_ = p.buildCache.Put(ctx, entry)
}
