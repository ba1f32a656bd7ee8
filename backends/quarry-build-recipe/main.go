// The quarry-build-recipe backend builds bare recipe.yaml sources. It speaks
// the backend protocol over stdio: one JSON request per line on stdin, one
// JSON response per line on stdout, logs on stderr.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/log"
	"github.com/quarrypm/quarry/internal/protocol"
	"github.com/quarrypm/quarry/internal/solve"
)

const (
	backendName    = "quarry-build-recipe"
	backendVersion = "0.1.0"
)

// recipe mirrors the recipe.yaml schema this backend understands.
type recipe struct {
	Package struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"package"`
	Build struct {
		// Script runs through `sh -c` in the work directory before the
		// artifact is assembled. Optional.
		Script string `yaml:"script,omitempty"`

		// Noarch marks the output platform-independent.
		Noarch bool `yaml:"noarch,omitempty"`
	} `yaml:"build,omitempty"`
	Requirements struct {
		Run []string `yaml:"run,omitempty"`
	} `yaml:"requirements,omitempty"`
}

type server struct {
	sourceDir string
	recipe    *recipe
}

func main() {
	log.Setup(os.Getenv("QUARRY_LOG_LEVEL"))
	logger := log.WithBackend(backendName)

	s := &server{}
	encoder := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Error("invalid request line", "error", err)
			continue
		}
		resp := s.handle(&req)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("write response", "error", err)
			os.Exit(1)
		}
	}
}

func (s *server) handle(req *protocol.Request) *protocol.Response {
	result, err := s.dispatch(req)
	if err != nil {
		return &protocol.Response{ID: req.ID, Error: &protocol.ErrorDetail{Code: -1, Message: err.Error()}}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return &protocol.Response{ID: req.ID, Error: &protocol.ErrorDetail{Code: -1, Message: err.Error()}}
	}
	return &protocol.Response{ID: req.ID, Result: raw}
}

func (s *server) dispatch(req *protocol.Request) (any, error) {
	switch req.Method {
	case protocol.MethodNegotiateCapabilities:
		return protocol.Capabilities{
			Protocol: protocol.Version,
			Methods: []string{
				protocol.MethodNegotiateCapabilities,
				protocol.MethodInitialize,
				protocol.MethodGetMetadata,
				protocol.MethodOutputs,
				protocol.MethodBuild,
			},
		}, nil

	case protocol.MethodInitialize:
		var params protocol.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid initialize params: %w", err)
		}
		return s.initialize(params)

	case protocol.MethodGetMetadata:
		var params protocol.GetMetadataParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid getMetadata params: %w", err)
		}
		return s.getMetadata(params)

	case protocol.MethodOutputs:
		return s.outputs()

	case protocol.MethodBuild:
		var params protocol.BuildParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("invalid build params: %w", err)
		}
		return s.build(params)

	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

func (s *server) initialize(params protocol.InitializeParams) (protocol.InitializeResult, error) {
	data, err := os.ReadFile(filepath.Join(params.SourceDir, "recipe.yaml"))
	if err != nil {
		return protocol.InitializeResult{}, fmt.Errorf("read recipe: %w", err)
	}
	r := &recipe{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return protocol.InitializeResult{}, fmt.Errorf("parse recipe: %w", err)
	}
	if r.Package.Name == "" || r.Package.Version == "" {
		return protocol.InitializeResult{}, fmt.Errorf("recipe must set package.name and package.version")
	}

	s.sourceDir = params.SourceDir
	s.recipe = r
	return protocol.InitializeResult{BackendName: backendName, BackendVersion: backendVersion}, nil
}

func (s *server) getMetadata(params protocol.GetMetadataParams) (protocol.GetMetadataResult, error) {
	if s.recipe == nil {
		return protocol.GetMetadataResult{}, fmt.Errorf("not initialized")
	}
	return protocol.GetMetadataResult{
		Records: []solve.PackageRecord{{
			Name:      s.recipe.Package.Name,
			Version:   s.recipe.Package.Version,
			Subdir:    s.subdir(params.HostPlatform.Platform),
			DependsOn: s.recipe.Requirements.Run,
		}},
		InputGlobs: []string{"recipe.yaml"},
	}, nil
}

func (s *server) outputs() (protocol.OutputsResult, error) {
	if s.recipe == nil {
		return protocol.OutputsResult{}, fmt.Errorf("not initialized")
	}
	return protocol.OutputsResult{
		Outputs: []protocol.OutputIdent{{
			Name:    s.recipe.Package.Name,
			Version: s.recipe.Package.Version,
		}},
	}, nil
}

func (s *server) build(params protocol.BuildParams) (protocol.BuildResult, error) {
	if s.recipe == nil {
		return protocol.BuildResult{}, fmt.Errorf("not initialized")
	}
	if params.Output != nil && params.Output.Name != s.recipe.Package.Name {
		return protocol.BuildResult{}, fmt.Errorf("recipe has no output %q", params.Output.Name)
	}

	if script := strings.TrimSpace(s.recipe.Build.Script); script != "" {
		cmd := exec.Command("sh", "-c", script)
		cmd.Dir = params.WorkDir
		cmd.Env = append(os.Environ(),
			"SRC_DIR="+s.sourceDir,
			"PKG_NAME="+s.recipe.Package.Name,
			"PKG_VERSION="+s.recipe.Package.Version,
		)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return protocol.BuildResult{}, fmt.Errorf("build script failed: %w", err)
		}
	}

	subdir := s.subdir(params.HostPlatform.Platform)
	artifact := filepath.Join(params.WorkDir,
		fmt.Sprintf("%s-%s-0.conda", s.recipe.Package.Name, s.recipe.Package.Version))
	payload, err := json.Marshal(map[string]string{
		"name":    s.recipe.Package.Name,
		"version": s.recipe.Package.Version,
		"subdir":  string(subdir),
	})
	if err != nil {
		return protocol.BuildResult{}, err
	}
	if err := os.WriteFile(artifact, payload, 0o644); err != nil {
		return protocol.BuildResult{}, fmt.Errorf("write artifact: %w", err)
	}

	return protocol.BuildResult{
		Artifacts: []protocol.BuiltArtifact{{
			Path:    artifact,
			Name:    s.recipe.Package.Name,
			Version: s.recipe.Package.Version,
			Build:   "0",
			Subdir:  subdir,
		}},
		InputGlobs: []string{"recipe.yaml"},
	}, nil
}

func (s *server) subdir(host buildenv.Platform) buildenv.Platform {
	if s.recipe.Build.Noarch {
		return buildenv.NoArch
	}
	if host != "" {
		return host
	}
	return buildenv.Current()
}
