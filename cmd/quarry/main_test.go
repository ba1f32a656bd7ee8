package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureStdout(t *testing.T, run func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe failed: %v", err)
	}
	os.Stdout = w

	runErr := run()

	_ = w.Close()
	os.Stdout = oldStdout
	out, _ := io.ReadAll(r)
	_ = r.Close()

	return string(out), runErr
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return captureStdout(t, func() error {
		cmd := rootCmd()
		cmd.SetArgs(args)
		cmd.SetErr(io.Discard)
		return cmd.Execute()
	})
}

// writeTestChannel lays out a one-package local channel and returns its path.
func writeTestChannel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	index := `
packages:
  - name: tool
    version: 1.0.0
    subdir: noarch
    path: pkgs/tool
`
	if err := os.WriteFile(filepath.Join(dir, "index.yaml"), []byte(index), 0o644); err != nil {
		t.Fatal(err)
	}
	binDir := filepath.Join(dir, "pkgs", "tool", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "tool"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "quarry version") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestSolveCommandEndToEnd(t *testing.T) {
	channel := writeTestChannel(t)
	cacheDir := t.TempDir()

	configPath := filepath.Join(t.TempDir(), "quarry.config.yaml")
	config := "cache_dir: " + cacheDir + "\n"
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t,
		"--config", configPath,
		"--channel", channel,
		"solve", "tool",
	)
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	if !strings.Contains(out, "name: tool") || !strings.Contains(out, "version: 1.0.0") {
		t.Errorf("solve output missing resolved record:\n%s", out)
	}
}

func TestInstallCommandEndToEnd(t *testing.T) {
	channel := writeTestChannel(t)
	cacheDir := t.TempDir()
	prefix := filepath.Join(t.TempDir(), "env")

	configPath := filepath.Join(t.TempDir(), "quarry.config.yaml")
	if err := os.WriteFile(configPath, []byte("cache_dir: "+cacheDir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t,
		"--config", configPath,
		"--channel", channel,
		"install", prefix, "tool",
	)
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if !strings.Contains(out, "installed 1 packages") {
		t.Errorf("unexpected install output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(prefix, "bin", "tool")); err != nil {
		t.Errorf("entry point missing after install: %v", err)
	}

	out, err = execute(t,
		"--config", configPath,
		"--channel", channel,
		"install", prefix, "tool",
	)
	if err != nil {
		t.Fatalf("second install failed: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("second install should be a no-op: %q", out)
	}
}

func TestInfoCommandShowsConfiguration(t *testing.T) {
	channel := writeTestChannel(t)
	cacheDir := t.TempDir()

	configPath := filepath.Join(t.TempDir(), "quarry.config.yaml")
	if err := os.WriteFile(configPath, []byte("cache_dir: "+cacheDir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t,
		"--config", configPath,
		"--channel", channel,
		"--platform", "linux-64",
		"info",
	)
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if !strings.Contains(out, "platform:   linux-64") {
		t.Errorf("info output missing platform: %q", out)
	}
	if !strings.Contains(out, cacheDir) {
		t.Errorf("info output missing cache root: %q", out)
	}
	if !strings.Contains(out, channel) {
		t.Errorf("info output missing channel: %q", out)
	}
}

func TestDoctorCommand(t *testing.T) {
	channel := writeTestChannel(t)
	cacheDir := t.TempDir()

	configPath := filepath.Join(t.TempDir(), "quarry.config.yaml")
	if err := os.WriteFile(configPath, []byte("cache_dir: "+cacheDir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t,
		"--config", configPath,
		"--channel", channel,
		"doctor",
	)
	if err != nil {
		t.Fatalf("doctor failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Environment healthy") {
		t.Errorf("unexpected doctor output: %q", out)
	}
}

func TestSolveRejectsInvalidSpec(t *testing.T) {
	_, err := execute(t, "solve", "a b c d")
	if err == nil {
		t.Fatal("solve should reject a malformed spec")
	}
}

func TestResolveChannels(t *testing.T) {
	cc, err := resolveChannels([]string{"https://repo.example.org/main", "./local"})
	if err != nil {
		t.Fatalf("resolveChannels failed: %v", err)
	}
	if len(cc.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(cc.Channels))
	}
	if cc.Channels[0].URL != "https://repo.example.org/main" {
		t.Errorf("remote channel URL = %q", cc.Channels[0].URL)
	}
	if !filepath.IsAbs(cc.Channels[1].URL) {
		t.Errorf("local channel should resolve to an absolute path: %q", cc.Channels[1].URL)
	}
	if cc.Channels[1].Name != "local" {
		t.Errorf("local channel name = %q", cc.Channels[1].Name)
	}
}

func TestSourceSpecFromFlags(t *testing.T) {
	spec, err := sourceSpec(nil, "https://example.org/repo.git", "v1.2")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Git == nil || spec.Git.Rev != "v1.2" {
		t.Errorf("git spec = %+v", spec)
	}

	spec, err = sourceSpec([]string{"./pkg"}, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Path == nil || spec.Path.Path != "./pkg" {
		t.Errorf("path spec = %+v", spec)
	}
}
