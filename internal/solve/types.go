// Package solve defines the data types exchanged with the dependency solver
// and the installer. The solving algorithm and the linking mechanics live
// behind the Solver and Installer interfaces; the dispatcher only coordinates
// calls into them.
package solve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quarrypm/quarry/internal/buildenv"
)

// MatchSpec is a package requirement such as "python >=3.11" or
// "cmake 3.28.* h*_0".
type MatchSpec struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
	Build   string `yaml:"build,omitempty" json:"build,omitempty"`
}

func (m MatchSpec) String() string {
	s := m.Name
	if m.Version != "" {
		s += " " + m.Version
	}
	if m.Build != "" {
		s += " " + m.Build
	}
	return s
}

// ParseMatchSpec parses "name [version [build]]".
func ParseMatchSpec(s string) (MatchSpec, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 0:
		return MatchSpec{}, fmt.Errorf("empty match spec")
	case 1:
		return MatchSpec{Name: fields[0]}, nil
	case 2:
		return MatchSpec{Name: fields[0], Version: fields[1]}, nil
	case 3:
		return MatchSpec{Name: fields[0], Version: fields[1], Build: fields[2]}, nil
	default:
		return MatchSpec{}, fmt.Errorf("invalid match spec %q", s)
	}
}

// Channel is a named package source.
type Channel struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// ChannelConfig is the resolved channel configuration for an operation. The
// channel list is ordered; earlier channels take priority.
type ChannelConfig struct {
	Channels []Channel `yaml:"channels" json:"channels"`
}

// FingerprintText renders a canonical textual form for cache keys. Channel
// order is significant for solving, so it is preserved.
func (c ChannelConfig) FingerprintText() string {
	parts := make([]string, 0, len(c.Channels))
	for _, ch := range c.Channels {
		parts = append(parts, ch.Name+"="+ch.URL)
	}
	return strings.Join(parts, ",")
}

// PackageRecord is a single resolved package.
type PackageRecord struct {
	Name      string            `yaml:"name" json:"name"`
	Version   string            `yaml:"version" json:"version"`
	Build     string            `yaml:"build,omitempty" json:"build,omitempty"`
	Subdir    buildenv.Platform `yaml:"subdir,omitempty" json:"subdir,omitempty"`
	Channel   string            `yaml:"channel,omitempty" json:"channel,omitempty"`
	URL       string            `yaml:"url,omitempty" json:"url,omitempty"`
	Sha256    string            `yaml:"sha256,omitempty" json:"sha256,omitempty"`
	DependsOn []string          `yaml:"depends,omitempty" json:"depends,omitempty"`
}

// SortRecords orders records by name then version for stable output.
func SortRecords(records []PackageRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].Version < records[j].Version
	})
}
