package solve

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/quarrypm/quarry/internal/buildenv"
)

// channelIndex is the on-disk index of a local filesystem channel, stored as
// index.yaml in the channel directory.
type channelIndex struct {
	Packages []indexEntry `yaml:"packages"`
}

type indexEntry struct {
	Name    string            `yaml:"name"`
	Version string            `yaml:"version"`
	Build   string            `yaml:"build,omitempty"`
	Subdir  buildenv.Platform `yaml:"subdir,omitempty"`
	Depends []string          `yaml:"depends,omitempty"`

	// Path is the package payload relative to the channel directory. It
	// points at a directory whose contents are merged into a prefix.
	Path string `yaml:"path,omitempty"`
}

// LocalSolver resolves problems against local filesystem channels. It is a
// deliberately small resolver: first matching candidate wins, dependencies
// are followed breadth-first, and there is no backtracking. Remote channels
// and full constraint solving stay behind the Solver interface.
type LocalSolver struct{}

func NewLocalSolver() *LocalSolver {
	return &LocalSolver{}
}

func (s *LocalSolver) Solve(ctx context.Context, problem Problem) ([]PackageRecord, error) {
	indexes := make([]loadedIndex, 0, len(problem.Channels.Channels))
	for _, ch := range problem.Channels.Channels {
		idx, err := loadChannelIndex(ch)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}

	virtual := make(map[string]string, len(problem.VirtualPkgs))
	for _, v := range problem.VirtualPkgs {
		virtual[v.Name] = v.Version
	}

	resolved := make(map[string]PackageRecord)
	queue := append([]MatchSpec(nil), problem.Specs...)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec := queue[0]
		queue = queue[1:]

		if strings.HasPrefix(spec.Name, "__") {
			if _, ok := virtual[spec.Name]; !ok {
				return nil, fmt.Errorf("virtual package %q is not provided by platform %s", spec.Name, problem.Platform)
			}
			continue
		}
		if _, ok := resolved[spec.Name]; ok {
			continue
		}

		record, ok := findCandidate(spec, problem, indexes)
		if !ok {
			return nil, fmt.Errorf("no candidate for %q on %s in channels [%s]",
				spec.String(), problem.Platform, problem.Channels.FingerprintText())
		}
		resolved[spec.Name] = record

		for _, dep := range record.DependsOn {
			depSpec, err := ParseMatchSpec(dep)
			if err != nil {
				return nil, fmt.Errorf("package %s has invalid dependency %q: %w", record.Name, dep, err)
			}
			queue = append(queue, depSpec)
		}
	}

	records := make([]PackageRecord, 0, len(resolved))
	for _, r := range resolved {
		records = append(records, r)
	}
	SortRecords(records)
	return records, nil
}

type loadedIndex struct {
	channel Channel
	dir     string
	entries []indexEntry
}

func loadChannelIndex(ch Channel) (loadedIndex, error) {
	dir := strings.TrimPrefix(ch.URL, "file://")
	data, err := os.ReadFile(filepath.Join(dir, "index.yaml"))
	if err != nil {
		return loadedIndex{}, fmt.Errorf("channel %s: %w", ch.Name, err)
	}
	var idx channelIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return loadedIndex{}, fmt.Errorf("channel %s: invalid index: %w", ch.Name, err)
	}
	return loadedIndex{channel: ch, dir: dir, entries: idx.Packages}, nil
}

// findCandidate checks extra records first (source-built metadata outranks
// channels), then each channel in priority order.
func findCandidate(spec MatchSpec, problem Problem, indexes []loadedIndex) (PackageRecord, bool) {
	for _, r := range problem.ExtraRecords {
		if r.Name == spec.Name && versionMatches(spec.Version, r.Version) && buildMatches(spec.Build, r.Build) {
			return r, true
		}
	}
	for _, idx := range indexes {
		for _, e := range idx.entries {
			if e.Name != spec.Name {
				continue
			}
			if e.Subdir != "" && e.Subdir != problem.Platform && e.Subdir != buildenv.NoArch {
				continue
			}
			if !versionMatches(spec.Version, e.Version) || !buildMatches(spec.Build, e.Build) {
				continue
			}
			return PackageRecord{
				Name:      e.Name,
				Version:   e.Version,
				Build:     e.Build,
				Subdir:    e.Subdir,
				Channel:   idx.channel.Name,
				URL:       filepath.Join(idx.dir, e.Path),
				DependsOn: e.Depends,
			}, true
		}
	}
	return PackageRecord{}, false
}

// versionMatches evaluates a single constraint against a version. Supported
// forms: empty (any), "*", glob like "3.28.*", exact, and the comparison
// operators >=, <=, >, <, ==.
func versionMatches(constraint, version string) bool {
	switch {
	case constraint == "" || constraint == "*":
		return true
	case strings.HasPrefix(constraint, ">="):
		return compareVersions(version, constraint[2:]) >= 0
	case strings.HasPrefix(constraint, "<="):
		return compareVersions(version, constraint[2:]) <= 0
	case strings.HasPrefix(constraint, "=="):
		return compareVersions(version, constraint[2:]) == 0
	case strings.HasPrefix(constraint, ">"):
		return compareVersions(version, constraint[1:]) > 0
	case strings.HasPrefix(constraint, "<"):
		return compareVersions(version, constraint[1:]) < 0
	case strings.ContainsAny(constraint, "*?"):
		ok, err := doublestar.Match(constraint, version)
		return err == nil && ok
	default:
		return compareVersions(version, constraint) == 0
	}
}

func buildMatches(constraint, build string) bool {
	if constraint == "" {
		return true
	}
	if strings.ContainsAny(constraint, "*?") {
		ok, err := doublestar.Match(constraint, build)
		return err == nil && ok
	}
	return constraint == build
}

// compareVersions compares dotted numeric versions segment by segment.
// Non-numeric segments fall back to string comparison. Missing segments
// count as zero, so "1.2" equals "1.2.0".
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		an, aerr := strconv.Atoi(av)
		bn, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if av != bv {
			return strings.Compare(av, bv)
		}
	}
	return 0
}

const manifestName = "quarry-meta.yaml"

// prefixManifest records what an installed prefix contains so a repeated
// install with identical records becomes a no-op.
type prefixManifest struct {
	Name    string          `yaml:"name"`
	Records []PackageRecord `yaml:"records"`
}

// LocalInstaller materializes resolved records into a prefix by merging each
// package's payload directory and writing a prefix manifest.
type LocalInstaller struct{}

func NewLocalInstaller() *LocalInstaller {
	return &LocalInstaller{}
}

func (in *LocalInstaller) Install(ctx context.Context, req InstallRequest) (InstallResult, error) {
	manifest := prefixManifest{Name: req.Name, Records: req.Records}
	want, err := yaml.Marshal(&manifest)
	if err != nil {
		return InstallResult{}, err
	}

	manifestPath := filepath.Join(req.Prefix, manifestName)
	if !req.Force {
		existing, err := os.ReadFile(manifestPath)
		if err == nil && bytes.Equal(existing, want) {
			return InstallResult{Prefix: req.Prefix, WasUpToDate: true}, nil
		}
	}

	removed := 0
	if _, err := os.Stat(manifestPath); err == nil {
		// The prefix holds a different environment. Rebuild it from scratch
		// rather than layering payloads.
		if err := os.RemoveAll(req.Prefix); err != nil {
			return InstallResult{}, fmt.Errorf("failed to clear prefix %s: %w", req.Prefix, err)
		}
		removed = 1
	}
	if err := os.MkdirAll(req.Prefix, 0o755); err != nil {
		return InstallResult{}, err
	}

	installed := 0
	for _, record := range req.Records {
		if err := ctx.Err(); err != nil {
			return InstallResult{}, err
		}
		if record.URL == "" {
			continue
		}
		if err := mergeTree(record.URL, req.Prefix); err != nil {
			return InstallResult{}, fmt.Errorf("failed to install %s %s: %w", record.Name, record.Version, err)
		}
		installed++
	}

	if err := os.WriteFile(manifestPath, want, 0o644); err != nil {
		return InstallResult{}, err
	}
	return InstallResult{Prefix: req.Prefix, Installed: installed, Removed: removed}, nil
}

// mergeTree copies the payload directory src into dst, preserving file modes
// so entry points under bin/ stay executable.
func mergeTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
