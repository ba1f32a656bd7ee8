package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/protocol"
)

func writeRecipe(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "recipe.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func call(t *testing.T, s *server, id uint64, method string, params any, result any) *protocol.ErrorDetail {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			t.Fatal(err)
		}
		raw = data
	}
	resp := s.handle(&protocol.Request{Protocol: protocol.Version, ID: id, Method: method, Params: raw})
	if resp.ID != id {
		t.Fatalf("response id = %d, want %d", resp.ID, id)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			t.Fatalf("decode result: %v", err)
		}
	}
	return nil
}

func initServer(t *testing.T, recipeYAML string) *server {
	t.Helper()
	dir := writeRecipe(t, recipeYAML)
	s := &server{}

	var caps protocol.Capabilities
	if errDetail := call(t, s, 1, protocol.MethodNegotiateCapabilities, nil, &caps); errDetail != nil {
		t.Fatalf("negotiate: %v", errDetail)
	}
	if caps.Protocol != protocol.Version || len(caps.Methods) == 0 {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}

	var initResult protocol.InitializeResult
	errDetail := call(t, s, 2, protocol.MethodInitialize,
		protocol.InitializeParams{SourceDir: dir}, &initResult)
	if errDetail != nil {
		t.Fatalf("initialize: %v", errDetail)
	}
	if initResult.BackendName != backendName {
		t.Fatalf("backend name = %q", initResult.BackendName)
	}
	return s
}

func TestGetMetadata(t *testing.T) {
	s := initServer(t, `
package:
  name: demo
  version: 0.1.0
requirements:
  run: ["base >=1.0"]
`)

	var result protocol.GetMetadataResult
	errDetail := call(t, s, 3, protocol.MethodGetMetadata, protocol.GetMetadataParams{
		HostPlatform: protocol.PlatformAndVirtual{Platform: "linux-64"},
	}, &result)
	if errDetail != nil {
		t.Fatalf("getMetadata: %v", errDetail)
	}

	if len(result.Records) != 1 {
		t.Fatalf("records = %+v", result.Records)
	}
	record := result.Records[0]
	if record.Name != "demo" || record.Version != "0.1.0" || record.Subdir != "linux-64" {
		t.Errorf("unexpected record: %+v", record)
	}
	if len(record.DependsOn) != 1 || record.DependsOn[0] != "base >=1.0" {
		t.Errorf("depends = %v", record.DependsOn)
	}
	if len(result.InputGlobs) != 1 || result.InputGlobs[0] != "recipe.yaml" {
		t.Errorf("input globs = %v", result.InputGlobs)
	}
}

func TestBuildRunsScriptAndWritesArtifact(t *testing.T) {
	s := initServer(t, `
package:
  name: demo
  version: 0.1.0
build:
  script: echo "$PKG_NAME" > script-ran.txt
  noarch: true
`)

	workDir := t.TempDir()
	var result protocol.BuildResult
	errDetail := call(t, s, 3, protocol.MethodBuild, protocol.BuildParams{WorkDir: workDir}, &result)
	if errDetail != nil {
		t.Fatalf("build: %v", errDetail)
	}

	if len(result.Artifacts) != 1 {
		t.Fatalf("artifacts = %+v", result.Artifacts)
	}
	artifact := result.Artifacts[0]
	if artifact.Subdir != buildenv.NoArch {
		t.Errorf("noarch recipe should produce a noarch artifact, got %s", artifact.Subdir)
	}
	if _, err := os.Stat(artifact.Path); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "script-ran.txt")); err != nil {
		t.Errorf("build script did not run: %v", err)
	}
}

func TestBuildRejectsUnknownOutput(t *testing.T) {
	s := initServer(t, "package:\n  name: demo\n  version: 0.1.0\n")

	errDetail := call(t, s, 3, protocol.MethodBuild, protocol.BuildParams{
		WorkDir: t.TempDir(),
		Output:  &protocol.OutputIdent{Name: "other"},
	}, nil)
	if errDetail == nil {
		t.Fatal("build of unknown output should fail")
	}
}

func TestUnknownMethod(t *testing.T) {
	s := &server{}
	errDetail := call(t, s, 1, "conda/teleport", nil, nil)
	if errDetail == nil {
		t.Fatal("unknown method should return an error")
	}
}

func TestCallsBeforeInitializeFail(t *testing.T) {
	s := &server{}
	if errDetail := call(t, s, 1, protocol.MethodGetMetadata, protocol.GetMetadataParams{}, nil); errDetail == nil {
		t.Fatal("getMetadata before initialize should fail")
	}
}
