package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/sidekick/internal/history"
)

func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("ClickHouse container unavailable: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return container, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() { _ = container.Terminate(ctx) }()

	sink, err := New(addr, "sidecar_history")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	rec := history.Record{Name: "opencode-cli", PID: 321, Port: 4096, State: "timed_out", Elapsed: 7 * time.Second, Error: "no listener"}
	if err := sink.Send(ctx, history.Event{Type: history.EventTimedOut, OccurredAt: time.Now(), Record: rec}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}

	var count uint64
	if err := sink.conn.QueryRow(ctx, "SELECT count() FROM sidecar_history WHERE type = 'timed_out'").Scan(&count); err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 event, got %d", count)
	}
}
