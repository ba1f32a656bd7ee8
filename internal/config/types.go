package config

// Config represents the complete quarry configuration.
type Config struct {
	// CacheDir overrides the default cache root. Empty means the
	// platform default under the user cache directory.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// Channels are the package channels consulted for solves and
	// tool environments, in priority order.
	Channels []string `yaml:"channels"`

	// Platform overrides the detected host platform, e.g. "linux-64".
	Platform string `yaml:"platform,omitempty"`

	Limits  LimitsConfig  `yaml:"limits,omitempty"`
	Log     LogConfig     `yaml:"log,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// LimitsConfig bounds per-class concurrency. Zero means the built-in
// default for the class; -1 disables the ceiling.
type LimitsConfig struct {
	MaxConcurrentSolves int `yaml:"max_concurrent_solves,omitempty"`
	MaxConcurrentBuilds int `yaml:"max_concurrent_builds,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig defines the optional prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}
