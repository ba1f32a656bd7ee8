package dispatch

import (
	"context"
	"fmt"

	"github.com/quarrypm/quarry/internal/protocol"
)

func (p *processor) handleMetadata(m *metadataMsg) {
	spec := m.spec

	dispatchTask(p, &p.metadata, spec.cacheKey(), m.meta, m.reply,
		func(ctx context.Context, child *Dispatcher) (*SourceMetadata, error) {
			checkout, err := child.PinAndCheckout(ctx, spec.Source)
			if err != nil {
				return nil, fmt.Errorf("checkout %s: %w", spec.Source, err)
			}

			b, err := child.DiscoverBackend(ctx, checkout.Path, spec.Protocols, spec.Channels)
			if err != nil {
				return nil, fmt.Errorf("discover backend for %s: %w", spec.Source, err)
			}

			client, err := p.openBackend(ctx, child, b, backendChannels(b, spec.Channels), spec.Env.BuildPlatform)
			if err != nil {
				return nil, err
			}
			defer client.Close()

			result, err := client.GetMetadata(ctx, protocolMetadataParams(spec))
			if err != nil {
				return nil, fmt.Errorf("get metadata from %s for %s: %w", b.Spec.Name(), spec.Source, err)
			}

			var outputs []protocol.OutputIdent
			if client.Supports(protocol.MethodOutputs) {
				res, err := client.Outputs(ctx, protocol.OutputsParams{
					HostPlatform: protocolPlatform(spec.Env.HostPlatform, spec.Env.HostVirtualPackages),
				})
				if err != nil {
					return nil, fmt.Errorf("list outputs from %s for %s: %w", b.Spec.Name(), spec.Source, err)
				}
				outputs = res.Outputs
			}

			return &SourceMetadata{
				Checkout:   checkout,
				Backend:    client.Identity(),
				Records:    result.Records,
				Outputs:    outputs,
				InputGlobs: result.InputGlobs,
			}, nil
		})
}

func protocolMetadataParams(spec SourceMetadataSpec) protocol.GetMetadataParams {
	return protocol.GetMetadataParams{
		BuildPlatform: protocolPlatform(spec.Env.BuildPlatform, spec.Env.BuildVirtualPackages),
		HostPlatform:  protocolPlatform(spec.Env.HostPlatform, spec.Env.HostVirtualPackages),
		Channels:      spec.Channels.Channels,
	}
}
