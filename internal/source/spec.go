// Package source resolves source specifications (git, url, local path) to
// exact pinned revisions and local checkout directories.
package source

import (
	"fmt"
	"strings"
)

// Spec describes where source code comes from before it is pinned. Exactly
// one field is set.
type Spec struct {
	Git  *GitSpec  `yaml:"git,omitempty" json:"git,omitempty"`
	URL  *URLSpec  `yaml:"url,omitempty" json:"url,omitempty"`
	Path *PathSpec `yaml:"path,omitempty" json:"path,omitempty"`
}

// GitSpec references a git repository at a mutable ref (branch, tag, or
// revision prefix). An empty Rev means the remote default branch.
type GitSpec struct {
	URL string `yaml:"url" json:"url"`
	Rev string `yaml:"rev,omitempty" json:"rev,omitempty"`
}

// URLSpec references a source archive. The hash is optional at this stage;
// pinning computes it if absent.
type URLSpec struct {
	URL string `yaml:"url" json:"url"`
	// Blake3 is the hex-encoded expected content hash, if known up front.
	Blake3 string `yaml:"blake3,omitempty" json:"blake3,omitempty"`
}

// PathSpec references source code on the local filesystem, usually under
// active development.
type PathSpec struct {
	Path string `yaml:"path" json:"path"`
}

// Validate checks that exactly one variant is set.
func (s Spec) Validate() error {
	n := 0
	if s.Git != nil {
		n++
	}
	if s.URL != nil {
		n++
	}
	if s.Path != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("source spec must set exactly one of git, url, path")
	}
	return nil
}

func (s Spec) String() string {
	switch {
	case s.Git != nil:
		if s.Git.Rev != "" {
			return fmt.Sprintf("git+%s@%s", s.Git.URL, s.Git.Rev)
		}
		return "git+" + s.Git.URL
	case s.URL != nil:
		return s.URL.URL
	case s.Path != nil:
		return s.Path.Path
	default:
		return "<empty source spec>"
	}
}

// Pinned is an exact, reproducible description of a source revision. Exactly
// one field is set.
type Pinned struct {
	Git  *PinnedGit  `yaml:"git,omitempty" json:"git,omitempty"`
	URL  *PinnedURL  `yaml:"url,omitempty" json:"url,omitempty"`
	Path *PinnedPath `yaml:"path,omitempty" json:"path,omitempty"`
}

// PinnedGit is a repository at an exact commit.
type PinnedGit struct {
	URL    string `yaml:"url" json:"url"`
	Commit string `yaml:"commit" json:"commit"`
}

// PinnedURL is an archive with a verified content hash.
type PinnedURL struct {
	URL    string `yaml:"url" json:"url"`
	Blake3 string `yaml:"blake3" json:"blake3"`
}

// PinnedPath is a local directory. Note that a path pin is exact about the
// location only: the contents may change between builds, which is why
// path-addressed cache keys are derived from the location rather than the
// content (see Identity).
type PinnedPath struct {
	Path string `yaml:"path" json:"path"`
}

// Immutable reports whether the pinned contents can never change without the
// pin itself changing. Git commits and content-hashed archives are immutable;
// local paths are not.
func (p Pinned) Immutable() bool {
	return p.Path == nil
}

// Identity returns the canonical description used for cache keys. Immutable
// pins are content-addressed by their exact description; mutable path pins
// are addressed by location so edits are always picked up.
func (p Pinned) Identity() string {
	switch {
	case p.Git != nil:
		return "git+" + p.Git.URL + "@" + p.Git.Commit
	case p.URL != nil:
		return "url+" + p.URL.URL + "#" + p.URL.Blake3
	case p.Path != nil:
		return "path+" + p.Path.Path
	default:
		return ""
	}
}

func (p Pinned) String() string {
	switch {
	case p.Git != nil:
		short := p.Git.Commit
		if len(short) > 12 {
			short = short[:12]
		}
		return fmt.Sprintf("%s@%s", p.Git.URL, short)
	case p.URL != nil:
		return p.URL.URL
	case p.Path != nil:
		return p.Path.Path
	default:
		return "<empty pin>"
	}
}

// DisplayName returns a short human-readable name for progress reporting.
func (p Pinned) DisplayName() string {
	s := p.String()
	if idx := strings.LastIndexByte(s, '/'); idx >= 0 && idx < len(s)-1 {
		return s[idx+1:]
	}
	return s
}
