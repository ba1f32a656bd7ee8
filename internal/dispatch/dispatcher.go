package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/quarrypm/quarry/internal/buildenv"
	"github.com/quarrypm/quarry/internal/coalesce"
	"github.com/quarrypm/quarry/internal/discovery"
	"github.com/quarrypm/quarry/internal/keys"
	"github.com/quarrypm/quarry/internal/protocol"
	"github.com/quarrypm/quarry/internal/report"
	"github.com/quarrypm/quarry/internal/solve"
	"github.com/quarrypm/quarry/internal/source"
)

// core is the state shared by every Dispatcher handle: the processor's inbox
// plus the coordination-free coalescing caches.
type core struct {
	inbox   chan any
	stopped chan struct{}
	cancel  context.CancelFunc

	reporter    report.Reporter
	discoveries *coalesce.Cache[string, *discovery.Backend]

	closeOnce sync.Once
	closeErr  error
	cleanup   func() error
}

func (c *core) child(parentID string) *Dispatcher {
	return &Dispatcher{core: c, parentID: parentID}
}

func (c *core) send(ctx context.Context, msg any) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrCancelled
	}
}

// Dispatcher is the cheap-to-share front end. Every method sends one task to
// the processor and waits for its reply or the caller's context. Handles
// created inside a running job carry that job's identity so nested requests
// chain correctly.
type Dispatcher struct {
	core     *core
	parentID string
}

// await waits for the task's reply. An abandoned wait does not abort the
// underlying job; it runs to completion and its result stays cached.
func await[O any](ctx context.Context, c *core, reply chan taskResult[O]) (O, error) {
	var zero O
	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.stopped:
		select {
		case r := <-reply:
			return r.value, r.err
		default:
			return zero, ErrCancelled
		}
	}
}

type solveMsg struct {
	meta    taskMeta
	problem solve.Problem
	reply   chan taskResult[[]solve.PackageRecord]
}

type installMsg struct {
	meta  taskMeta
	req   solve.InstallRequest
	reply chan taskResult[solve.InstallResult]
}

type pinCheckoutMsg struct {
	meta  taskMeta
	spec  source.Spec
	reply chan taskResult[source.Checkout]
}

type checkoutPinnedMsg struct {
	meta  taskMeta
	pin   source.Pinned
	reply chan taskResult[source.Checkout]
}

type toolEnvMsg struct {
	meta  taskMeta
	key   keys.ToolEnvKey
	reply chan taskResult[ToolEnvironment]
}

type metadataMsg struct {
	meta  taskMeta
	spec  SourceMetadataSpec
	reply chan taskResult[*SourceMetadata]
}

type buildMsg struct {
	meta  taskMeta
	spec  SourceBuildSpec
	reply chan taskResult[*BuiltSource]
}

// SolveEnvironment resolves a fully-specified dependency problem to a set of
// package records. Identical concurrent problems share one solver run.
func (d *Dispatcher) SolveEnvironment(ctx context.Context, problem solve.Problem) ([]solve.PackageRecord, error) {
	if problem.Name == "" {
		return nil, fmt.Errorf("solve problem has no name")
	}
	if len(problem.Channels.Channels) == 0 {
		return nil, fmt.Errorf("solve problem %q has no channels", problem.Name)
	}
	if problem.Platform == "" {
		problem.Platform = buildenv.Current()
	}

	msg := &solveMsg{
		meta:    newTaskMeta(d.parentID, problem.Name),
		problem: problem,
		reply:   make(chan taskResult[[]solve.PackageRecord], 1),
	}
	if err := d.core.send(ctx, msg); err != nil {
		return nil, err
	}
	return await(ctx, d.core, msg.reply)
}

// InstallEnvironment links resolved records into a prefix. Requests for the
// same prefix coalesce; Force bypasses the coalescing key so a fresh install
// happens regardless of a cached result, which itself stays untouched.
func (d *Dispatcher) InstallEnvironment(ctx context.Context, req solve.InstallRequest) (solve.InstallResult, error) {
	if req.Prefix == "" {
		return solve.InstallResult{}, fmt.Errorf("install request has no prefix")
	}

	msg := &installMsg{
		meta:  newTaskMeta(d.parentID, req.Prefix),
		req:   req,
		reply: make(chan taskResult[solve.InstallResult], 1),
	}
	if err := d.core.send(ctx, msg); err != nil {
		return solve.InstallResult{}, err
	}
	return await(ctx, d.core, msg.reply)
}

// PinAndCheckout resolves a source specification to an exact revision and
// materializes it on disk.
func (d *Dispatcher) PinAndCheckout(ctx context.Context, spec source.Spec) (source.Checkout, error) {
	if err := spec.Validate(); err != nil {
		return source.Checkout{}, err
	}

	msg := &pinCheckoutMsg{
		meta:  newTaskMeta(d.parentID, spec.String()),
		spec:  spec,
		reply: make(chan taskResult[source.Checkout], 1),
	}
	if err := d.core.send(ctx, msg); err != nil {
		return source.Checkout{}, err
	}
	return await(ctx, d.core, msg.reply)
}

// CheckoutPinned materializes an already-pinned source.
func (d *Dispatcher) CheckoutPinned(ctx context.Context, pin source.Pinned) (source.Checkout, error) {
	msg := &checkoutPinnedMsg{
		meta:  newTaskMeta(d.parentID, pin.DisplayName()),
		pin:   pin,
		reply: make(chan taskResult[source.Checkout], 1),
	}
	if err := d.core.send(ctx, msg); err != nil {
		return source.Checkout{}, err
	}
	return await(ctx, d.core, msg.reply)
}

// InstantiateToolEnvironment ensures the build-tool environment described by
// key exists on disk and returns its prefix and entry command.
func (d *Dispatcher) InstantiateToolEnvironment(ctx context.Context, key keys.ToolEnvKey) (ToolEnvironment, error) {
	if key.Requirement.Name == "" {
		return ToolEnvironment{}, fmt.Errorf("tool environment has no requirement")
	}
	if key.Platform == "" {
		key.Platform = buildenv.Current()
	}

	msg := &toolEnvMsg{
		meta:  newTaskMeta(d.parentID, key.Requirement.Name),
		key:   key,
		reply: make(chan taskResult[ToolEnvironment], 1),
	}
	if err := d.core.send(ctx, msg); err != nil {
		return ToolEnvironment{}, err
	}
	return await(ctx, d.core, msg.reply)
}

// SourceMetadata checks out a source, instantiates its backend and asks it
// for package metadata.
func (d *Dispatcher) SourceMetadata(ctx context.Context, spec SourceMetadataSpec) (*SourceMetadata, error) {
	if err := spec.normalize(); err != nil {
		return nil, err
	}

	msg := &metadataMsg{
		meta:  newTaskMeta(d.parentID, spec.Source.String()),
		spec:  spec,
		reply: make(chan taskResult[*SourceMetadata], 1),
	}
	if err := d.core.send(ctx, msg); err != nil {
		return nil, err
	}
	return await(ctx, d.core, msg.reply)
}

// SourceBuild builds a source checkout through its backend, reusing a cached
// build when the backend-declared input files are unchanged.
func (d *Dispatcher) SourceBuild(ctx context.Context, spec SourceBuildSpec) (*BuiltSource, error) {
	if err := spec.normalize(); err != nil {
		return nil, err
	}

	msg := &buildMsg{
		meta:  newTaskMeta(d.parentID, spec.displayName()),
		spec:  spec,
		reply: make(chan taskResult[*BuiltSource], 1),
	}
	if err := d.core.send(ctx, msg); err != nil {
		return nil, err
	}
	return await(ctx, d.core, msg.reply)
}

// DiscoverBackend finds the build backend for a source tree. Concurrent
// identical requests share one filesystem scan; successes are cached for the
// dispatcher's lifetime, failures are not.
func (d *Dispatcher) DiscoverBackend(ctx context.Context, sourcePath string, protocols keys.ProtocolSet, channels solve.ChannelConfig) (*discovery.Backend, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}

	key := keys.DiscoveryKey{SourcePath: abs, Protocols: protocols, Channels: channels}
	fingerprint := key.Fingerprint()

	meta := newTaskMeta(d.parentID, abs)
	ev := meta.event(report.ClassDiscovery)
	_, cached := d.core.discoveries.Peek(fingerprint)

	d.core.reporter.TaskQueued(ev)
	d.core.reporter.TaskStarted(ev)
	backend, err := d.core.discoveries.GetOrInit(ctx, fingerprint, func(ctx context.Context) (*discovery.Backend, error) {
		return discovery.Discover(abs, protocols)
	})
	if err != nil {
		ev.Err = err.Error()
	}
	ev.Cached = cached
	d.core.reporter.TaskFinished(ev)
	return backend, err
}

// Close shuts the dispatcher down. In-flight waiters receive ErrCancelled;
// running futures are cancelled through their context.
func (d *Dispatcher) Close() error {
	d.core.closeOnce.Do(func() {
		d.core.cancel()
		<-d.core.stopped
		if d.core.cleanup != nil {
			d.core.closeErr = d.core.cleanup()
		}
	})
	return d.core.closeErr
}

// protocolPlatform pairs a platform with its virtual packages for the wire.
func protocolPlatform(platform buildenv.Platform, virtual []buildenv.VirtualPackage) protocol.PlatformAndVirtual {
	return protocol.PlatformAndVirtual{Platform: platform, VirtualPkgs: virtual}
}
