package solve

import (
	"context"

	"github.com/quarrypm/quarry/internal/buildenv"
)

// Problem is a fully-specified solve request: everything the solver needs is
// already resolved, no recursive source discovery happens at this layer.
type Problem struct {
	Name        string
	Specs       []MatchSpec
	Channels    ChannelConfig
	Platform    buildenv.Platform
	VirtualPkgs []buildenv.VirtualPackage

	// ExtraRecords are candidate packages that do not come from a channel,
	// e.g. metadata produced by a source build backend.
	ExtraRecords []PackageRecord
}

//go:generate mockgen -destination=mocks/mock_solve.go -package=mocks github.com/quarrypm/quarry/internal/solve Solver,Installer

// Solver resolves a Problem to a set of package records.
type Solver interface {
	Solve(ctx context.Context, problem Problem) ([]PackageRecord, error)
}

// InstallRequest describes an environment installation into a prefix.
type InstallRequest struct {
	Name    string
	Prefix  string
	Records []PackageRecord

	// Force requests a reinstall even if the prefix already matches.
	Force bool
}

// InstallResult reports what an installation changed.
type InstallResult struct {
	Prefix      string
	Installed   int
	Removed     int
	WasUpToDate bool
}

// Installer links resolved package records into a prefix on disk.
type Installer interface {
	Install(ctx context.Context, req InstallRequest) (InstallResult, error)
}
