// ABOUTME: Engine lifecycle events emitted during run execution, plus a slog bridge for ambient logging.
// ABOUTME: Events are observability only; no engine correctness depends on a handler being installed.
package graph

import (
	"log/slog"
	"time"
)

// EventType identifies the kind of engine lifecycle event.
type EventType string

const (
	EventRunStarted      EventType = "run.started"
	EventRunCompleted    EventType = "run.completed"
	EventRunSuspended    EventType = "run.suspended"
	EventRunStalled      EventType = "run.stalled"
	EventRunFailed       EventType = "run.failed"
	EventStageStarted    EventType = "stage.started"
	EventStageCompleted  EventType = "stage.completed"
	EventStageFailed     EventType = "stage.failed"
	EventStageSkipped    EventType = "stage.skipped"
	EventStageSuspended  EventType = "stage.suspended"
	EventStageRetrying   EventType = "stage.retrying"
	EventCheckpointSaved EventType = "checkpoint.saved"
)

// Event is one lifecycle event emitted by the engine.
type Event struct {
	Type      EventType
	RunID     string
	Node      string
	Superstep int
	Data      map[string]any
	Timestamp time.Time
}

// EventHandler receives engine events. Handlers run synchronously on the
// scheduler loop and must be fast.
type EventHandler func(Event)

// SlogSink returns an EventHandler that logs every event through the given
// slog logger. Stage and run failures log at Error, retries and stalls at
// Warn, everything else at Info.
func SlogSink(logger *slog.Logger) EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(evt Event) {
		attrs := []any{
			slog.String("run_id", evt.RunID),
			slog.Int("superstep", evt.Superstep),
		}
		if evt.Node != "" {
			attrs = append(attrs, slog.String("node", evt.Node))
		}
		for k, v := range evt.Data {
			attrs = append(attrs, slog.Any(k, v))
		}
		switch evt.Type {
		case EventStageFailed, EventRunFailed:
			logger.Error(string(evt.Type), attrs...)
		case EventStageRetrying, EventRunStalled:
			logger.Warn(string(evt.Type), attrs...)
		default:
			logger.Info(string(evt.Type), attrs...)
		}
	}
}
