package dispatch

import (
	"context"
	"fmt"

	"github.com/quarrypm/quarry/internal/backend"
	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/discovery"
	"github.com/quarrypm/quarry/internal/keys"
	"github.com/quarrypm/quarry/internal/protocol"
	"github.com/quarrypm/quarry/internal/solve"
)

// openBackend turns a discovered backend into a running, initialized
// protocol client. Isolated backends are instantiated through a nested
// tool-environment request; system backends run straight off PATH. The
// caller owns the returned client and must Close it.
func (p *processor) openBackend(
	ctx context.Context,
	child *Dispatcher,
	b *discovery.Backend,
	channels solve.ChannelConfig,
	platform buildenv.Platform,
) (*protocol.Client, error) {
	command, err := p.backendCommand(ctx, child, b.Spec, channels, platform)
	if err != nil {
		return nil, err
	}

	client, err := protocol.Spawn(command, nil, b.SourceDir, nil, b.Spec.Name())
	if err != nil {
		return nil, fmt.Errorf("spawn backend %s: %w", b.Spec.Name(), err)
	}

	if _, err := client.Negotiate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("negotiate with backend %s: %w", b.Spec.Name(), err)
	}

	if _, err := client.Initialize(ctx, protocol.InitializeParams{
		ManifestPath: b.ManifestPath,
		SourceDir:    b.SourceDir,
		CacheDir:     p.dirs.Root(),
		Config:       b.Config,
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize backend %s: %w", b.Spec.Name(), err)
	}

	return client, nil
}

func (p *processor) backendCommand(
	ctx context.Context,
	child *Dispatcher,
	spec backend.Spec,
	channels solve.ChannelConfig,
	platform buildenv.Platform,
) (string, error) {
	switch {
	case spec.System != nil:
		return spec.System.Command, nil

	case spec.Isolated != nil:
		env, err := child.InstantiateToolEnvironment(ctx, keys.ToolEnvKey{
			Requirement: spec.Isolated.Requirement,
			Extra:       spec.Isolated.Extra,
			Channels:    channels,
			Platform:    platform,
			Command:     spec.CommandName(),
		})
		if err != nil {
			return "", err
		}
		return env.Command, nil

	default:
		return "", fmt.Errorf("backend spec has no variant")
	}
}

// backendChannels picks the channel configuration for instantiating a
// backend: the manifest's override when present, the request's otherwise.
func backendChannels(b *discovery.Backend, requested solve.ChannelConfig) solve.ChannelConfig {
	if len(b.Channels) > 0 {
		return solve.ChannelConfig{Channels: b.Channels}
	}
	return requested
}
