package dispatch

import (
	"context"

	"github.com/quarrypm/quarry/internal/cache"
	"github.com/quarrypm/quarry/internal/globhash"
	"github.com/quarrypm/quarry/internal/report"
	"github.com/quarrypm/quarry/internal/solve"
	"github.com/quarrypm/quarry/internal/source"
	"github.com/quarrypm/quarry/internal/workdir"
)

// processor is the single-owner event loop. Every pending table, the lineage
// map, and all cache bookkeeping are touched only from run's goroutine, so
// none of it needs locks.
type processor struct {
	ctx      context.Context
	core     *core
	executor Executor
	reporter report.Reporter
	limits   ResolvedLimits

	solver     solve.Solver
	installer  solve.Installer
	sources    *source.Resolver
	workdirs   *workdir.Manager
	buildCache *cache.BuildCache
	globs      *globhash.Hasher
	dirs       cache.Dirs

	solves    pendingTable[[]solve.PackageRecord]
	installs  pendingTable[solve.InstallResult]
	pins      pendingTable[source.Checkout]
	checkouts pendingTable[source.Checkout]
	toolEnvs  pendingTable[ToolEnvironment]
	metadata  pendingTable[*SourceMetadata]
	builds    pendingTable[*BuiltSource]

	lineage map[string]lineageNode
}

// lineageNode records who spawned a task, for cycle detection in recursive
// source dependencies and for event attribution.
type lineageNode struct {
	parentID string
	class    report.JobClass
	key      string
	name     string
}

func (p *processor) run() {
	defer close(p.core.stopped)
	defer p.executor.Close()

	for {
		select {
		case msg := <-p.core.inbox:
			p.handle(msg)
		case fn := <-p.executor.Completions():
			fn()
		case <-p.ctx.Done():
			p.cancelAll()
			return
		}
	}
}

func (p *processor) handle(msg any) {
	switch m := msg.(type) {
	case *solveMsg:
		p.handleSolve(m)
	case *installMsg:
		p.handleInstall(m)
	case *pinCheckoutMsg:
		p.handlePinCheckout(m)
	case *checkoutPinnedMsg:
		p.handleCheckoutPinned(m)
	case *toolEnvMsg:
		p.handleToolEnv(m)
	case *metadataMsg:
		p.handleMetadata(m)
	case *buildMsg:
		p.handleBuild(m)
	default:
		panic("dispatch: unknown message type")
	}
}

func (p *processor) cancelAll() {
	p.solves.cancelAll()
	p.installs.cancelAll()
	p.pins.cancelAll()
	p.checkouts.cancelAll()
	p.toolEnvs.cancelAll()
	p.metadata.cancelAll()
	p.builds.cancelAll()
}

// findCycle walks the lineage chain upward from parentID looking for an
// ancestor in flight for the same key. A hit means the request would wait on
// itself; joining would deadlock, so it is rejected instead.
func (p *processor) findCycle(parentID string, class report.JobClass, key string) []string {
	var chain []string
	for id := parentID; id != ""; {
		node, ok := p.lineage[id]
		if !ok {
			return nil
		}
		chain = append(chain, node.name)
		if node.class == class && node.key == key {
			// Present the chain root-first.
			for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
				chain[i], chain[j] = chain[j], chain[i]
			}
			return chain
		}
		id = node.parentID
	}
	return nil
}

// dispatchTask implements the shared admission flow: answer from cache, join
// an in-flight group, or spawn the future. run executes off-loop with the
// processor's context (not the caller's: an abandoned job runs to completion
// and its result is cached) and a child dispatcher for nested requests.
func dispatchTask[O any](
	p *processor,
	tbl *pendingTable[O],
	key string,
	meta taskMeta,
	reply chan taskResult[O],
	run func(ctx context.Context, child *Dispatcher) (O, error),
) {
	ev := meta.event(tbl.class)
	p.reporter.TaskQueued(ev)
	p.reporter.TaskStarted(ev)

	if chain := p.findCycle(meta.parentID, tbl.class, key); chain != nil {
		err := &CycleError{Chain: append(chain, meta.name)}
		reply <- taskResult[O]{err: err}
		ev.Err = err.Error()
		p.reporter.TaskFinished(ev)
		return
	}

	switch tbl.admit(key, pendingWaiter[O]{meta: meta, reply: reply}) {
	case admitCached:
		ev.Cached = true
		p.reporter.TaskFinished(ev)

	case admitJoined:
		// Delivery and the finished event happen when the group resolves.

	case admitSpawn:
		p.lineage[meta.id] = lineageNode{
			parentID: meta.parentID,
			class:    tbl.class,
			key:      key,
			name:     meta.name,
		}
		child := p.core.child(meta.id)
		p.executor.Spawn(func() func() {
			value, err := run(p.ctx, child)
			return func() {
				delete(p.lineage, meta.id)
				for _, w := range tbl.complete(key, value, err) {
					wev := w.meta.event(tbl.class)
					if err != nil {
						wev.Err = err.Error()
					}
					p.reporter.TaskFinished(wev)
				}
			}
		})
	}
}
