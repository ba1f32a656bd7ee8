package dispatch

import (
	"context"
	"net/http"
	"os"

	"github.com/quarrypm/quarry/internal/cache"
	"github.com/quarrypm/quarry/internal/coalesce"
	"github.com/quarrypm/quarry/internal/discovery"
	"github.com/quarrypm/quarry/internal/globhash"
	"github.com/quarrypm/quarry/internal/report"
	"github.com/quarrypm/quarry/internal/solve"
	"github.com/quarrypm/quarry/internal/source"
	"github.com/quarrypm/quarry/internal/workdir"
)

// Builder assembles a Dispatcher. Zero values give a working dispatcher with
// default cache locations, no-op reporting, default limits and the concurrent
// executor; solver and installer must be provided before solve or install
// operations are used.
type Builder struct {
	dirs       *cache.Dirs
	rootDir    string
	solver     solve.Solver
	installer  solve.Installer
	reporter   report.Reporter
	limits     Limits
	executor   ExecutorKind
	httpClient *http.Client
}

// NewBuilder starts a dispatcher configuration.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithCacheDirs overrides the cache directory layout.
func (b *Builder) WithCacheDirs(dirs cache.Dirs) *Builder {
	b.dirs = &dirs
	return b
}

// WithRootDir anchors relative path sources. Defaults to the working
// directory.
func (b *Builder) WithRootDir(dir string) *Builder {
	b.rootDir = dir
	return b
}

// WithSolver provides the dependency solver.
func (b *Builder) WithSolver(s solve.Solver) *Builder {
	b.solver = s
	return b
}

// WithInstaller provides the environment installer.
func (b *Builder) WithInstaller(i solve.Installer) *Builder {
	b.installer = i
	return b
}

// WithReporter subscribes a reporter to job lifecycle events.
func (b *Builder) WithReporter(r report.Reporter) *Builder {
	b.reporter = r
	return b
}

// WithLimits overrides the per-class concurrency ceilings.
func (b *Builder) WithLimits(l Limits) *Builder {
	b.limits = l
	return b
}

// WithExecutor selects the scheduling policy.
func (b *Builder) WithExecutor(kind ExecutorKind) *Builder {
	b.executor = kind
	return b
}

// WithHTTPClient overrides the client used for URL source downloads.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// Finish starts the processor and returns the front-end handle.
func (b *Builder) Finish(ctx context.Context) (*Dispatcher, error) {
	dirs := b.dirs
	if dirs == nil {
		root, err := cache.DefaultRoot()
		if err != nil {
			return nil, err
		}
		d, err := cache.NewDirs(root)
		if err != nil {
			return nil, err
		}
		dirs = &d
	}

	rootDir := b.rootDir
	if rootDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		rootDir = wd
	}

	resolver, err := source.NewResolver(*dirs, rootDir, b.httpClient)
	if err != nil {
		return nil, err
	}

	workdirs, err := workdir.NewManager(dirs.WorkDirs())
	if err != nil {
		return nil, err
	}

	buildCache, err := cache.OpenBuildCache(ctx, dirs.SourceBuildsDB())
	if err != nil {
		return nil, err
	}

	reporter := b.reporter
	if reporter == nil {
		reporter = report.Nop{}
	}

	procCtx, cancel := context.WithCancel(context.Background())
	c := &core{
		inbox:       make(chan any),
		stopped:     make(chan struct{}),
		cancel:      cancel,
		reporter:    reporter,
		discoveries: coalesce.New[string, *discovery.Backend](),
		cleanup:     buildCache.Close,
	}

	p := &processor{
		ctx:        procCtx,
		core:       c,
		executor:   newExecutor(b.executor),
		reporter:   reporter,
		limits:     b.limits.resolve(),
		solver:     b.solver,
		installer:  b.installer,
		sources:    resolver,
		workdirs:   workdirs,
		buildCache: buildCache,
		globs:      globhash.NewHasher(),
		dirs:       *dirs,
		solves:     newPendingTable[[]solve.PackageRecord](report.ClassSolve),
		installs:   newPendingTable[solve.InstallResult](report.ClassInstall),
		pins:       newPendingTable[source.Checkout](report.ClassCheckout),
		checkouts:  newPendingTable[source.Checkout](report.ClassCheckout),
		toolEnvs:   newPendingTable[ToolEnvironment](report.ClassToolEnv),
		metadata:   newPendingTable[*SourceMetadata](report.ClassMetadata),
		builds:     newPendingTable[*BuiltSource](report.ClassBuild),
		lineage:    make(map[string]lineageNode),
	}

	go p.run()

	return &Dispatcher{core: c}, nil
}
