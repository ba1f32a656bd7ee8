package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A missing file is not an
// error: every setting has a usable default, so Load returns the default
// configuration when path does not exist.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		return applyDefaults(&Config{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	expanded := expandEnvVars(string(data))

	cfg := &Config{}
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}

	cfg = applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", absPath, err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyDefaults merges default values into config where not explicitly set.
func applyDefaults(cfg *Config) *Config {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9464"
	}
	return cfg
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}

	if c.Limits.MaxConcurrentSolves < -1 {
		return fmt.Errorf("limits.max_concurrent_solves: %d is not a valid limit", c.Limits.MaxConcurrentSolves)
	}
	if c.Limits.MaxConcurrentBuilds < -1 {
		return fmt.Errorf("limits.max_concurrent_builds: %d is not a valid limit", c.Limits.MaxConcurrentBuilds)
	}

	for i, ch := range c.Channels {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("channels[%d]: channel must not be empty", i)
		}
	}
	return nil
}
