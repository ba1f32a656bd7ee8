package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quarrypm/quarry/internal/report"
)

// ErrCancelled is returned to callers whose operation was abandoned because
// the dispatcher shut down, as opposed to the operation itself failing.
var ErrCancelled = errors.New("operation cancelled")

// CycleError reports a cycle in recursive source dependencies: a source build
// transitively requested itself.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic source dependency: %s", strings.Join(e.Chain, " -> "))
}

// taskResult is what a waiter receives on its reply channel. Reply channels
// are buffered with capacity one so delivery never blocks the processor,
// even when the caller is gone.
type taskResult[O any] struct {
	value  O
	err    error
	cached bool
}

// taskMeta is the per-request provenance shared by every job class. ParentID
// links a task to the task whose future dispatched it, giving the processor
// the lineage chain it needs for cycle detection and event attribution.
type taskMeta struct {
	id       string
	parentID string
	name     string
}

func newTaskMeta(parentID, name string) taskMeta {
	return taskMeta{id: uuid.NewString(), parentID: parentID, name: name}
}

func (m taskMeta) event(class report.JobClass) report.Event {
	return report.Event{
		Class:    class,
		TaskID:   m.id,
		ParentID: m.parentID,
		Name:     m.name,
		At:       time.Now(),
	}
}
