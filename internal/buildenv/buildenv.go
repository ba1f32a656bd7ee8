// Package buildenv describes the machine identities involved in a build.
//
// Cross-compilation and noarch packages make the distinction between the
// platform a build runs on and the platform its output runs on first-class,
// so both are carried explicitly instead of being derived from the host.
package buildenv

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Platform identifies an operating system / architecture pair using the
// conda subdir convention, e.g. "linux-64", "osx-arm64", "win-64".
type Platform string

const (
	Linux64    Platform = "linux-64"
	LinuxArm64 Platform = "linux-aarch64"
	Osx64      Platform = "osx-64"
	OsxArm64   Platform = "osx-arm64"
	Win64      Platform = "win-64"
	NoArch     Platform = "noarch"
)

// Current returns the platform of the running process.
func Current() Platform {
	switch runtime.GOOS {
	case "linux":
		if runtime.GOARCH == "arm64" {
			return LinuxArm64
		}
		return Linux64
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return OsxArm64
		}
		return Osx64
	case "windows":
		return Win64
	default:
		return Platform(fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH))
	}
}

// VirtualPackage is a synthetic capability descriptor (e.g. "__cuda 12") used
// to match platform-specific requirements without being installable itself.
type VirtualPackage struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
	Build   string `yaml:"build,omitempty" json:"build,omitempty"`
}

func (v VirtualPackage) String() string {
	s := v.Name
	if v.Version != "" {
		s += " " + v.Version
	}
	if v.Build != "" {
		s += " " + v.Build
	}
	return s
}

// BuildEnvironment captures the two possibly-distinct machine identities of a
// build: the platform the build executes on and the platform its output is
// targeted at.
type BuildEnvironment struct {
	HostPlatform         Platform         `json:"host_platform"`
	HostVirtualPackages  []VirtualPackage `json:"host_virtual_packages,omitempty"`
	BuildPlatform        Platform         `json:"build_platform"`
	BuildVirtualPackages []VirtualPackage `json:"build_virtual_packages,omitempty"`
}

// Simple returns a build environment where the build runs on and targets the
// same platform.
func Simple(platform Platform, virtual []VirtualPackage) BuildEnvironment {
	return BuildEnvironment{
		HostPlatform:         platform,
		HostVirtualPackages:  virtual,
		BuildPlatform:        platform,
		BuildVirtualPackages: virtual,
	}
}

// FingerprintText renders a canonical textual form of the environment for
// inclusion in cache keys. Virtual packages are sorted so ordering in the
// input never changes the key.
func (e BuildEnvironment) FingerprintText() string {
	var b strings.Builder
	b.WriteString("host=")
	b.WriteString(string(e.HostPlatform))
	for _, v := range sortedVirtual(e.HostVirtualPackages) {
		b.WriteString(";")
		b.WriteString(v.String())
	}
	b.WriteString("|build=")
	b.WriteString(string(e.BuildPlatform))
	for _, v := range sortedVirtual(e.BuildVirtualPackages) {
		b.WriteString(";")
		b.WriteString(v.String())
	}
	return b.String()
}

func sortedVirtual(in []VirtualPackage) []VirtualPackage {
	out := make([]VirtualPackage, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Override carries explicit build-environment substitutions threaded through
// an operation. It replaces any ambient or global override mechanism: a zero
// value means the requested environment is used as-is.
type Override struct {
	HostPlatform  Platform
	BuildPlatform Platform
}

// Apply returns env with any non-zero override fields substituted.
func (o Override) Apply(env BuildEnvironment) BuildEnvironment {
	if o.HostPlatform != "" {
		env.HostPlatform = o.HostPlatform
	}
	if o.BuildPlatform != "" {
		env.BuildPlatform = o.BuildPlatform
	}
	return env
}
