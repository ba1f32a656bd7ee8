package dispatch

import "sync"

// Executor drives spawned job futures to completion and surfaces their
// on-loop continuations as a stream. run executes on its own goroutine and
// returns a continuation; the processor executes continuations on its single
// coordination goroutine, which is what keeps the pending tables lock-free.
type Executor interface {
	Spawn(run func() func())
	Completions() <-chan func()
	Close()
}

// ExecutorKind selects the scheduling policy at dispatcher construction.
type ExecutorKind int

const (
	// ExecutorConcurrent runs futures in parallel; completion order is
	// driven by readiness. The production default.
	ExecutorConcurrent ExecutorKind = iota

	// ExecutorSerial delivers completions in strict LIFO push order for
	// reproducible interleaving. Only useful in tests.
	ExecutorSerial
)

func newExecutor(kind ExecutorKind) Executor {
	if kind == ExecutorSerial {
		return newSerialExecutor()
	}
	return newConcurrentExecutor()
}

// concurrentExecutor runs every future on its own goroutine and funnels
// continuations into one shared channel.
type concurrentExecutor struct {
	completions chan func()
	done        chan struct{}
	closeOnce   sync.Once
}

func newConcurrentExecutor() *concurrentExecutor {
	return &concurrentExecutor{
		completions: make(chan func(), 64),
		done:        make(chan struct{}),
	}
}

func (e *concurrentExecutor) Spawn(run func() func()) {
	go func() {
		fn := run()
		select {
		case e.completions <- fn:
		case <-e.done:
		}
	}()
}

func (e *concurrentExecutor) Completions() <-chan func() {
	return e.completions
}

func (e *concurrentExecutor) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// serialExecutor delivers completions strictly for the newest live future.
// Each pushed future starts immediately (a new push is by definition the top
// of the stack, and in the nested-dispatch pattern the pusher's parent is
// blocked waiting on it), but a completion is only forwarded when its future
// is the current top. This yields fully reproducible interleaving across
// distinct keys.
//
// Only the delivery of completions is serialized. The future bodies run on
// their own goroutines from the moment they are pushed, so side effects of a
// buried future may interleave with the top one; futures that need exclusive
// access to shared state must synchronize on their own.
type serialExecutor struct {
	mu    sync.Mutex
	stack []*serialEntry

	pushed      chan struct{}
	completions chan func()
	done        chan struct{}
	closeOnce   sync.Once
}

type serialEntry struct {
	result chan func()
}

func newSerialExecutor() *serialExecutor {
	e := &serialExecutor{
		pushed:      make(chan struct{}, 1),
		completions: make(chan func()),
		done:        make(chan struct{}),
	}
	go e.forward()
	return e
}

func (e *serialExecutor) Spawn(run func() func()) {
	entry := &serialEntry{result: make(chan func(), 1)}
	e.mu.Lock()
	e.stack = append(e.stack, entry)
	e.mu.Unlock()

	go func() {
		entry.result <- run()
	}()

	select {
	case e.pushed <- struct{}{}:
	default:
	}
}

func (e *serialExecutor) forward() {
	for {
		e.mu.Lock()
		var top *serialEntry
		if n := len(e.stack); n > 0 {
			top = e.stack[n-1]
		}
		e.mu.Unlock()

		if top == nil {
			select {
			case <-e.pushed:
				continue
			case <-e.done:
				return
			}
		}

		select {
		case fn := <-top.result:
			e.remove(top)
			select {
			case e.completions <- fn:
			case <-e.done:
				return
			}
		case <-e.pushed:
			// A newer future took the top of the stack.
		case <-e.done:
			return
		}
	}
}

func (e *serialExecutor) remove(entry *serialEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.stack {
		if cur == entry {
			e.stack = append(e.stack[:i], e.stack[i+1:]...)
			return
		}
	}
}

func (e *serialExecutor) Completions() <-chan func() {
	return e.completions
}

func (e *serialExecutor) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}
