// Package report delivers dispatcher lifecycle events to interested parties:
// logs, metrics, console output, or a live monitor. Reporters must be cheap
// and non-blocking; the dispatcher calls them from its event loop.
package report

import "time"

// JobClass names one kind of dispatched work.
type JobClass string

const (
	ClassSolve     JobClass = "solve"
	ClassInstall   JobClass = "install"
	ClassMetadata  JobClass = "metadata"
	ClassToolEnv   JobClass = "toolenv"
	ClassBuild     JobClass = "build"
	ClassCheckout  JobClass = "checkout"
	ClassDiscovery JobClass = "discovery"
)

// Event describes one lifecycle transition of a dispatched job. ParentID
// chains child jobs to the job that requested them, so a monitor can
// attribute nested work.
type Event struct {
	Class    JobClass
	TaskID   string
	ParentID string
	Name     string
	Err      string
	Cached   bool
	At       time.Time
}

// Reporter receives job lifecycle events. Implementations embed Nop to stay
// compatible when hooks are added.
type Reporter interface {
	TaskQueued(Event)
	TaskStarted(Event)
	TaskFinished(Event)
}

// Nop is a Reporter that ignores everything.
type Nop struct{}

func (Nop) TaskQueued(Event)   {}
func (Nop) TaskStarted(Event)  {}
func (Nop) TaskFinished(Event) {}

// Multi fans events out to several reporters in order.
type Multi []Reporter

func (m Multi) TaskQueued(e Event) {
	for _, r := range m {
		r.TaskQueued(e)
	}
}

func (m Multi) TaskStarted(e Event) {
	for _, r := range m {
		r.TaskStarted(e)
	}
}

func (m Multi) TaskFinished(e Event) {
	for _, r := range m {
		r.TaskFinished(e)
	}
}
