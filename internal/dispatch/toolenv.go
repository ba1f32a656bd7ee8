package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarrypm/quarry/internal/keys"
	"github.com/quarrypm/quarry/internal/solve"
)

// envReadySentinel marks a tool-environment prefix as fully installed, so a
// later process reuses it without consulting the in-memory cache.
const envReadySentinel = ".quarry-env-ready"

func (p *processor) handleToolEnv(m *toolEnvMsg) {
	key := m.key

	dispatchTask(p, &p.toolEnvs, key.Fingerprint(), m.meta, m.reply,
		func(ctx context.Context, child *Dispatcher) (ToolEnvironment, error) {
			return p.instantiateToolEnv(ctx, child, key)
		})
}

func (p *processor) instantiateToolEnv(ctx context.Context, child *Dispatcher, key keys.ToolEnvKey) (ToolEnvironment, error) {
	prefix := filepath.Join(p.dirs.BuildBackends(), key.Fingerprint())
	env := ToolEnvironment{
		Prefix:  prefix,
		Command: filepath.Join(prefix, "bin", key.Command),
	}
	if key.Command == "" {
		env.Command = filepath.Join(prefix, "bin", key.Requirement.Name)
	}

	if _, err := os.Stat(filepath.Join(prefix, envReadySentinel)); err == nil {
		return env, nil
	}

	specs := append([]solve.MatchSpec{key.Requirement}, key.Extra...)
	records, err := child.SolveEnvironment(ctx, solve.Problem{
		Name:     key.Requirement.Name,
		Specs:    specs,
		Channels: key.Channels,
		Platform: key.Platform,
	})
	if err != nil {
		return ToolEnvironment{}, fmt.Errorf("solve tool environment %s: %w", key.Requirement.Name, err)
	}

	if _, err := child.InstallEnvironment(ctx, solve.InstallRequest{
		Name:    key.Requirement.Name,
		Prefix:  prefix,
		Records: records,
	}); err != nil {
		return ToolEnvironment{}, fmt.Errorf("install tool environment %s: %w", key.Requirement.Name, err)
	}

	if err := os.WriteFile(filepath.Join(prefix, envReadySentinel), nil, 0o644); err != nil {
		return ToolEnvironment{}, fmt.Errorf("mark tool environment ready: %w", err)
	}
	return env, nil
}
