package report

import (
	"log/slog"

	"github.com/quarrypm/quarry/internal/log"
)

// LogReporter writes job lifecycle events to the structured log.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a reporter logging under the dispatch component.
func NewLogReporter() *LogReporter {
	return &LogReporter{logger: log.WithComponent("dispatch")}
}

func (r *LogReporter) TaskQueued(e Event) {
	r.logger.Debug("task queued", attrs(e)...)
}

func (r *LogReporter) TaskStarted(e Event) {
	r.logger.Debug("task started", attrs(e)...)
}

func (r *LogReporter) TaskFinished(e Event) {
	if e.Err != "" {
		r.logger.Warn("task failed", append(attrs(e), "error", e.Err)...)
		return
	}
	r.logger.Info("task finished", append(attrs(e), "cached", e.Cached)...)
}

func attrs(e Event) []any {
	out := []any{"class", string(e.Class), "task_id", e.TaskID, "name", e.Name}
	if e.ParentID != "" {
		out = append(out, "parent_id", e.ParentID)
	}
	return out
}
