package dispatch

import "github.com/quarrypm/quarry/internal/report"

// pendingTable is the per-job-class coalescing table, owned exclusively by
// the processor goroutine. Each key moves through a three-state machine:
// absent, pending with registered waiters, or resolved with a cached value.
// Failures remove the key instead of caching, so a later identical request
// gets a fresh attempt.
type pendingTable[O any] struct {
	class   report.JobClass
	entries map[string]*pendingEntry[O]
}

type pendingEntry[O any] struct {
	resolved bool
	value    O
	waiters  []pendingWaiter[O]
}

type pendingWaiter[O any] struct {
	meta  taskMeta
	reply chan<- taskResult[O]
}

func newPendingTable[O any](class report.JobClass) pendingTable[O] {
	return pendingTable[O]{class: class, entries: make(map[string]*pendingEntry[O])}
}

// admission is the outcome of registering a request against the table.
type admission int

const (
	admitCached admission = iota // terminal value existed; reply sent
	admitJoined                  // appended to an in-flight group
	admitSpawn                   // caller must spawn the underlying future
)

// admit implements the request side of the state machine. The cached reply
// is delivered here; joining and spawning leave delivery to complete.
func (t *pendingTable[O]) admit(key string, w pendingWaiter[O]) admission {
	entry, ok := t.entries[key]
	if ok && entry.resolved {
		w.reply <- taskResult[O]{value: entry.value, cached: true}
		return admitCached
	}
	if ok {
		entry.waiters = append(entry.waiters, w)
		return admitJoined
	}
	t.entries[key] = &pendingEntry[O]{waiters: []pendingWaiter[O]{w}}
	return admitSpawn
}

// complete resolves key exactly once, fanning the result out to every
// registered waiter. Returns the waiters so the caller can emit events.
func (t *pendingTable[O]) complete(key string, value O, err error) []pendingWaiter[O] {
	entry := t.entries[key]
	if entry == nil || entry.resolved {
		// Completion for an unknown or already-terminal key indicates a
		// programming defect in the processor, not an environmental failure.
		panic("dispatch: completion for non-pending key " + key)
	}

	waiters := entry.waiters
	for _, w := range waiters {
		w.reply <- taskResult[O]{value: value, err: err}
	}

	if err != nil {
		delete(t.entries, key)
	} else {
		entry.resolved = true
		entry.value = value
		entry.waiters = nil
	}
	return waiters
}

// cancelAll fails every in-flight waiter with ErrCancelled. Used at shutdown.
func (t *pendingTable[O]) cancelAll() {
	var zero O
	for key, entry := range t.entries {
		if entry.resolved {
			continue
		}
		for _, w := range entry.waiters {
			w.reply <- taskResult[O]{value: zero, err: ErrCancelled}
		}
		delete(t.entries, key)
	}
}
