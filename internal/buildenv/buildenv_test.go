package buildenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintTextIsOrderIndependent(t *testing.T) {
	a := BuildEnvironment{
		HostPlatform: Linux64,
		HostVirtualPackages: []VirtualPackage{
			{Name: "__glibc", Version: "2.36"},
			{Name: "__cuda", Version: "12"},
		},
		BuildPlatform: Linux64,
	}
	b := BuildEnvironment{
		HostPlatform: Linux64,
		HostVirtualPackages: []VirtualPackage{
			{Name: "__cuda", Version: "12"},
			{Name: "__glibc", Version: "2.36"},
		},
		BuildPlatform: Linux64,
	}

	assert.Equal(t, a.FingerprintText(), b.FingerprintText())
}

func TestFingerprintTextSeparatesHostAndBuild(t *testing.T) {
	cross := BuildEnvironment{HostPlatform: OsxArm64, BuildPlatform: Linux64}
	native := BuildEnvironment{HostPlatform: Linux64, BuildPlatform: OsxArm64}

	assert.NotEqual(t, cross.FingerprintText(), native.FingerprintText())
}

func TestOverrideApply(t *testing.T) {
	env := Simple(Linux64, nil)

	tests := []struct {
		name     string
		override Override
		want     BuildEnvironment
	}{
		{"zero override keeps env", Override{}, env},
		{
			"host only",
			Override{HostPlatform: OsxArm64},
			BuildEnvironment{HostPlatform: OsxArm64, BuildPlatform: Linux64},
		},
		{
			"both",
			Override{HostPlatform: Win64, BuildPlatform: Win64},
			BuildEnvironment{HostPlatform: Win64, BuildPlatform: Win64},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.override.Apply(env))
		})
	}
}

func TestCurrentIsNotEmpty(t *testing.T) {
	assert.NotEmpty(t, Current())
}
