// Package doctor validates a quarry environment: configuration, cache root,
// channels, and the host tools source builds depend on.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/quarrypm/quarry/internal/config"
	"github.com/quarrypm/quarry/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration against the host it runs on.
type Doctor struct {
	cfg       *config.Config
	cacheRoot string
}

// New creates a Doctor for a loaded config and resolved cache root.
func New(cfg *config.Config, cacheRoot string) *Doctor {
	return &Doctor{cfg: cfg, cacheRoot: cacheRoot}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateCacheRoot(r)
	d.validateChannels(r)
	d.warnMissingGit(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateConfig(r *Result) {
	if err := d.cfg.Validate(); err != nil {
		d.addError(r, "config", "", err.Error())
	}
}

// validateCacheRoot checks the cache root is writable, on a local
// filesystem, and supports the hard links work-directory clones rely on.
func (d *Doctor) validateCacheRoot(r *Result) {
	if d.cacheRoot == "" {
		d.addError(r, "cache", "cache_dir", "cache root is empty")
		return
	}
	if err := os.MkdirAll(d.cacheRoot, 0o755); err != nil {
		d.addError(r, "cache", "cache_dir", fmt.Sprintf("cache root is not writable: %v", err))
		return
	}

	probe := filepath.Join(d.cacheRoot, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		d.addError(r, "cache", "cache_dir", fmt.Sprintf("cache root is not writable: %v", err))
		return
	}
	_ = os.Remove(probe)

	if err := storage.ValidateLocalFilesystem(d.cacheRoot); err != nil {
		d.addError(r, "cache", "cache_dir", err.Error())
	}

	ok, err := storage.SupportsHardLinks(d.cacheRoot)
	if err != nil {
		d.addWarning(r, "cache", "cache_dir", fmt.Sprintf("could not probe hard link support: %v", err))
	} else if !ok {
		d.addWarning(r, "cache", "cache_dir",
			"filesystem does not support hard links; work-directory clones will be slow copies")
	}
}

// validateChannels checks every local channel directory carries an index.
func (d *Doctor) validateChannels(r *Result) {
	for i, entry := range d.cfg.Channels {
		field := fmt.Sprintf("channels[%d]", i)
		if strings.Contains(entry, "://") {
			continue
		}
		index := filepath.Join(entry, "index.yaml")
		if _, err := os.Stat(index); err != nil {
			d.addError(r, "channels", field, fmt.Sprintf("no channel index at %s", index))
		}
	}
}

// warnMissingGit flags a missing git binary. Only git sources need it, so
// this is a warning rather than an error.
func (d *Doctor) warnMissingGit(r *Result) {
	if _, err := exec.LookPath("git"); err != nil {
		d.addWarning(r, "tools", "git", "git not found in PATH; git sources will fail to pin")
	}
}

// FormatHuman renders the result for terminal output.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Environment healthy.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Environment healthy")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Environment unhealthy (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
