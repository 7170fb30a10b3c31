package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of supervisor lifecycle event.
type EventType string

const (
	EventSkipped       EventType = "skipped"      // a server was already listening
	EventSpawned       EventType = "spawned"      // sidecar launched
	EventReady         EventType = "ready"        // sidecar accepted connections
	EventTimedOut      EventType = "timed_out"    // sidecar never became reachable
	EventSpawnFailed   EventType = "spawn_failed" // sidecar could not be launched
	EventKilled        EventType = "killed"       // owned sidecar terminated
	EventExited        EventType = "exited"       // owned sidecar exited on its own
	EventCLISynced     EventType = "cli_synced"   // installed CLI checked or updated
	EventCLISyncFailed EventType = "cli_sync_failed"
)

// Record describes the sidecar at the time of an event.
type Record struct {
	Name    string        `json:"name"`
	PID     int           `json:"pid"`
	Port    int           `json:"port"`
	State   string        `json:"state"`
	Elapsed time.Duration `json:"elapsed"`
	Error   string        `json:"error,omitempty"`
}

// Event represents a lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Emit sends e to sink when sink is non-nil. Failures are logged and dropped:
// history is diagnostics and never affects supervision.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, e Event) {
	if sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if err := sink.Send(ctx, e); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Debug("history send failed", "event", string(e.Type), "error", err)
	}
}
