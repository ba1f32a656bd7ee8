package protocol

import (
	"encoding/json"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/solve"
)

// Version is the protocol version spoken over the backend's stdio.
const Version = 1

// Method names. Everything after negotiateCapabilities may be vetoed by the
// capability exchange; initialize has a forever-stable schema.
const (
	MethodNegotiateCapabilities = "negotiateCapabilities"
	MethodInitialize            = "initialize"
	MethodGetMetadata           = "conda/getMetadata"
	MethodOutputs               = "conda/outputs"
	MethodBuild                 = "conda/build_v1"
)

// Request is the envelope written to a backend's stdin, one JSON object per line.
type Request struct {
	Protocol int             `json:"protocol"`
	ID       uint64          `json:"id"`
	Method   string          `json:"method"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope read from a backend's stdout, one JSON object per line.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail carries a backend-reported failure.
type ErrorDetail struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorDetail) Error() string {
	return e.Message
}

// Capabilities is exchanged in both directions before any other call. Each
// side lists the methods it supports; the usable set is the intersection.
type Capabilities struct {
	Protocol int      `json:"protocol"`
	Methods  []string `json:"methods"`
}

// InitializeParams hands the backend everything it needs before real work:
// the manifest it was discovered from, opaque configuration, and a cache
// directory it may use freely.
type InitializeParams struct {
	ManifestPath string         `json:"manifest_path"`
	SourceDir    string         `json:"source_dir"`
	CacheDir     string         `json:"cache_dir"`
	Config       map[string]any `json:"configuration,omitempty"`
}

// InitializeResult identifies the backend.
type InitializeResult struct {
	BackendName    string `json:"backend_name"`
	BackendVersion string `json:"backend_version"`
}

// PlatformAndVirtual pairs a platform with the virtual packages present on it.
type PlatformAndVirtual struct {
	Platform    buildenv.Platform         `json:"platform"`
	VirtualPkgs []buildenv.VirtualPackage `json:"virtual_packages,omitempty"`
}

// GetMetadataParams asks the backend for candidate package metadata.
type GetMetadataParams struct {
	BuildPlatform PlatformAndVirtual `json:"build_platform"`
	HostPlatform  PlatformAndVirtual `json:"host_platform"`
	Channels      []solve.Channel    `json:"channels,omitempty"`
}

// GetMetadataResult returns candidate records plus the glob patterns of input
// files whose contents should invalidate a cached lock entry.
type GetMetadataResult struct {
	Records    []solve.PackageRecord `json:"records"`
	InputGlobs []string              `json:"input_globs,omitempty"`
}

// OutputsParams asks which outputs a build would produce.
type OutputsParams struct {
	HostPlatform PlatformAndVirtual `json:"host_platform"`
}

// OutputIdent names one producible output.
type OutputIdent struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Build   string            `json:"build,omitempty"`
	Subdir  buildenv.Platform `json:"subdir,omitempty"`
}

// OutputsResult lists producible outputs.
type OutputsResult struct {
	Outputs []OutputIdent `json:"outputs"`
}

// BuildParams executes a build in the given working directory.
type BuildParams struct {
	Output        *OutputIdent       `json:"output,omitempty"`
	WorkDir       string             `json:"work_dir"`
	BuildPlatform PlatformAndVirtual `json:"build_platform"`
	HostPlatform  PlatformAndVirtual `json:"host_platform"`
	Channels      []solve.Channel    `json:"channels,omitempty"`
}

// BuiltArtifact is one produced package file.
type BuiltArtifact struct {
	Path    string            `json:"path"`
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Build   string            `json:"build,omitempty"`
	Subdir  buildenv.Platform `json:"subdir,omitempty"`
}

// BuildResult reports the produced artifacts and the input globs that should
// invalidate the cached build.
type BuildResult struct {
	Artifacts  []BuiltArtifact `json:"artifacts"`
	InputGlobs []string        `json:"input_globs,omitempty"`
}
