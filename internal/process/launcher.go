package process

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/loykin/sidekick/internal/logbuf"
	"github.com/loykin/sidekick/internal/metrics"
)

// Launcher starts the sidecar server and captures its output.
type Launcher struct {
	Spawner  Spawner
	Strategy Strategy
	Sidecar  string   // absolute path of the sidecar executable
	Env      []string // complete child environment ("K=V")
	Logs     *logbuf.Buffer
	Logger   *slog.Logger
}

// Launch spawns `<sidecar> serve --port=<port>` and returns its handle.
// Output is drained into Logs on a background goroutine until the child's
// pipes close.
func (l *Launcher) Launch(port int) (Handle, error) {
	if l.Sidecar == "" {
		return nil, errors.New("sidecar path not set")
	}
	sp := l.Spawner
	if sp == nil {
		sp = ExecSpawner{}
	}
	st := l.Strategy
	if st == nil {
		st = DefaultStrategy()
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := st.Command(l.Sidecar, port)
	cmd.Env = l.Env
	events, h, err := sp.Spawn(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", cmd, err)
	}
	logger.Info("sidecar spawned",
		slog.Int("pid", h.PID()),
		slog.Int("port", port),
		slog.String("strategy", st.Name()))

	go l.drain(events)
	return h, nil
}

func (l *Launcher) drain(events <-chan Event) {
	for ev := range events {
		metrics.IncLogLine(ev.Stream.String())
		if l.Logs != nil {
			l.Logs.Append(ev.Stream, ev.Line)
		}
	}
}
