package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/sidekick/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	rec := history.Record{Name: "opencode-cli", PID: 12345, Port: 4096, State: "spawning"}

	if err := sink.Send(ctx, history.Event{Type: history.EventSpawned, OccurredAt: time.Now(), Record: rec}); err != nil {
		t.Fatalf("Failed to send spawned event: %v", err)
	}
	rec.State = "timed_out"
	rec.Elapsed = 7 * time.Second
	rec.Error = "Failed to spawn OpenCode Server"
	if err := sink.Send(ctx, history.Event{Type: history.EventTimedOut, OccurredAt: time.Now(), Record: rec}); err != nil {
		t.Fatalf("Failed to send timed_out event: %v", err)
	}

	n, err := sink.Count(ctx, "")
	if err != nil || n != 2 {
		t.Fatalf("Count() = %d, %v; want 2", n, err)
	}
	n, err = sink.Count(ctx, history.EventTimedOut)
	if err != nil || n != 1 {
		t.Fatalf("Count(timed_out) = %d, %v; want 1", n, err)
	}

	var msg string
	var elapsed int64
	row := sink.db.QueryRowContext(ctx, `SELECT error, elapsed_ms FROM sidecar_history WHERE event = 'timed_out'`)
	if err := row.Scan(&msg, &elapsed); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if msg != "Failed to spawn OpenCode Server" || elapsed != 7000 {
		t.Fatalf("unexpected row: %q %d", msg, elapsed)
	}
}

func TestSQLiteSinkMemoryAndEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), history.Event{Type: history.EventKilled, OccurredAt: time.Now()}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n, _ := sink.Count(context.Background(), history.EventKilled); n != 1 {
		t.Fatalf("want 1 killed event, got %d", n)
	}
}
