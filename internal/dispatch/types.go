package dispatch

import (
	"fmt"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/keys"
	"github.com/quarrypm/quarry/internal/protocol"
	"github.com/quarrypm/quarry/internal/solve"
	"github.com/quarrypm/quarry/internal/source"
)

// ToolEnvironment is an instantiated build-tool environment: a prefix on
// disk with the backend's entry command inside it.
type ToolEnvironment struct {
	Prefix  string
	Command string
}

// SourceMetadataSpec asks a source's backend for package metadata.
type SourceMetadataSpec struct {
	Source    source.Spec
	Protocols keys.ProtocolSet
	Channels  solve.ChannelConfig
	Env       buildenv.BuildEnvironment

	// Override replatforms the request without the caller having to build the
	// full environment by hand. It is applied after Env is defaulted.
	Override buildenv.Override
}

func (s *SourceMetadataSpec) normalize() error {
	if err := s.Source.Validate(); err != nil {
		return err
	}
	if s.Protocols == (keys.ProtocolSet{}) {
		s.Protocols = keys.AllProtocols()
	}
	if s.Env.HostPlatform == "" {
		s.Env = buildenv.Simple(buildenv.Current(), nil)
	}
	s.Env = s.Override.Apply(s.Env)
	return nil
}

// cacheKey identifies the request before pinning happens: mutable sources
// are keyed by their spec (which names the path), immutable ones by their
// exact reference. Within one process lifetime a branch ref resolves once.
func (s SourceMetadataSpec) cacheKey() string {
	return keys.HashText(fmt.Sprintf("metadata-v1\n%s\n%s\n%s\n%s",
		s.Source.String(),
		s.Channels.FingerprintText(),
		s.Env.FingerprintText(),
		protoText(s.Protocols)))
}

// SourceMetadata is the backend's answer for one source.
type SourceMetadata struct {
	Checkout   source.Checkout
	Backend    protocol.InitializeResult
	Records    []solve.PackageRecord
	Outputs    []protocol.OutputIdent
	InputGlobs []string
}

// SourceBuildSpec builds one source through its backend.
type SourceBuildSpec struct {
	Source    source.Spec
	Output    *protocol.OutputIdent
	Protocols keys.ProtocolSet
	Channels  solve.ChannelConfig
	Env       buildenv.BuildEnvironment

	// Override replatforms the request without the caller having to build the
	// full environment by hand. It is applied after Env is defaulted.
	Override buildenv.Override
}

func (s *SourceBuildSpec) normalize() error {
	if err := s.Source.Validate(); err != nil {
		return err
	}
	if s.Protocols == (keys.ProtocolSet{}) {
		s.Protocols = keys.AllProtocols()
	}
	if s.Env.HostPlatform == "" {
		s.Env = buildenv.Simple(buildenv.Current(), nil)
	}
	s.Env = s.Override.Apply(s.Env)
	return nil
}

func (s SourceBuildSpec) displayName() string {
	if s.Output != nil {
		return fmt.Sprintf("%s @ %s", s.Output.Name, s.Source.String())
	}
	return s.Source.String()
}

func (s SourceBuildSpec) cacheKey() string {
	output := ""
	if s.Output != nil {
		output = fmt.Sprintf("%s=%s=%s=%s", s.Output.Name, s.Output.Version, s.Output.Build, s.Output.Subdir)
	}
	return keys.HashText(fmt.Sprintf("build-v1\n%s\n%s\n%s\n%s\n%s",
		s.Source.String(),
		output,
		s.Channels.FingerprintText(),
		s.Env.FingerprintText(),
		protoText(s.Protocols)))
}

// BuiltSource reports the artifacts of one source build.
type BuiltSource struct {
	Checkout  source.Checkout
	Artifacts []protocol.BuiltArtifact

	// CachedBuild is set when the artifacts came from the persistent build
	// cache instead of a fresh backend invocation.
	CachedBuild bool
}

func protoText(p keys.ProtocolSet) string {
	return fmt.Sprintf("workspace=%t,recipe=%t", p.Workspace, p.Recipe)
}
