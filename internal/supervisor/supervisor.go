// Package supervisor brings the sidecar server up exactly once and publishes
// whether it became reachable.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/sidekick/internal/detector"
	"github.com/loykin/sidekick/internal/history"
	"github.com/loykin/sidekick/internal/logbuf"
	"github.com/loykin/sidekick/internal/metrics"
	"github.com/loykin/sidekick/internal/process"
)

// Readiness policy.
const (
	PollInterval = 10 * time.Millisecond
	WarmupGrace  = 10 * time.Millisecond
	ReadyTimeout = 7 * time.Second
)

var (
	// ErrSpawn wraps launcher failures.
	ErrSpawn = errors.New("spawn sidecar")
	// ErrReadyTimeout is the readiness error when the server never accepted
	// a connection. The full error carries the captured logs.
	ErrReadyTimeout = errors.New("Failed to spawn OpenCode Server")
)

// Launcher starts the sidecar listening on port.
type Launcher interface {
	Launch(port int) (process.Handle, error)
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State  string `json:"state"`
	Port   int    `json:"port"`
	PID    int    `json:"pid,omitempty"`
	Owned  bool   `json:"owned"`
	Ready  bool   `json:"ready"`
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// Supervisor owns at most one spawned sidecar and the readiness latch.
type Supervisor struct {
	name     string
	port     int
	prober   detector.Detector
	launcher Launcher
	logs     *logbuf.Buffer
	logger   *slog.Logger
	sink     history.Sink

	pollInterval time.Duration
	warmupGrace  time.Duration
	readyTimeout time.Duration

	state atomic.Int32
	latch *Latch
	once  sync.Once

	mu     sync.Mutex
	handle process.Handle
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option      { return func(s *Supervisor) { s.logger = l } }
func WithHistory(h history.Sink) Option     { return func(s *Supervisor) { s.sink = h } }
func WithLogs(b *logbuf.Buffer) Option      { return func(s *Supervisor) { s.logs = b } }
func WithName(n string) Option              { return func(s *Supervisor) { s.name = n } }
func WithProber(d detector.Detector) Option { return func(s *Supervisor) { s.prober = d } }

// WithTiming overrides the readiness policy. Zero values keep the defaults.
func WithTiming(poll, grace, timeout time.Duration) Option {
	return func(s *Supervisor) {
		if poll > 0 {
			s.pollInterval = poll
		}
		if grace > 0 {
			s.warmupGrace = grace
		}
		if timeout > 0 {
			s.readyTimeout = timeout
		}
	}
}

// New creates a Supervisor for port. The prober defaults to a loopback TCP dial.
func New(port int, launcher Launcher, opts ...Option) *Supervisor {
	s := &Supervisor{
		name:         process.DefaultSidecarName,
		port:         port,
		launcher:     launcher,
		pollInterval: PollInterval,
		warmupGrace:  WarmupGrace,
		readyTimeout: ReadyTimeout,
		latch:        NewLatch(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.prober == nil {
		s.prober = detector.Loopback(port)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.logs == nil {
		s.logs = logbuf.New(logbuf.DefaultCapacity)
	}
	s.logger = s.logger.With("component", "supervisor", "port", port)
	return s
}

func (s *Supervisor) Port() int            { return s.port }
func (s *Supervisor) Logs() *logbuf.Buffer { return s.logs }
func (s *Supervisor) State() State         { return State(s.state.Load()) }

// PID returns the owned sidecar's pid, or 0 when none is owned.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}

// Status snapshots the supervisor.
func (s *Supervisor) Status() Status {
	st := s.State()
	pid := s.PID()
	out := Status{
		State: st.String(),
		Port:  s.port,
		PID:   pid,
		Owned: pid != 0,
		Ready: st == StateReady,
	}
	if done, err := s.latch.Result(); done && err != nil {
		out.Failed = true
		out.Error = err.Error()
	}
	return out
}

// Start runs the state machine on a background goroutine.
func (s *Supervisor) Start(ctx context.Context) {
	go s.Run(ctx)
}

// Run drives the state machine to a terminal state and publishes the result.
// Only the first call does any work; ctx bounds history writes only.
func (s *Supervisor) Run(ctx context.Context) {
	s.once.Do(func() { s.latch.Set(s.run(ctx)) })
}

// EnsureStarted blocks until readiness is known or ctx ends. Every caller
// gets the same result.
func (s *Supervisor) EnsureStarted(ctx context.Context) error {
	return s.latch.Wait(ctx)
}

// Done is closed once readiness is known.
func (s *Supervisor) Done() <-chan struct{} { return s.latch.Done() }

// Kill terminates the owned sidecar. It reports whether there was one.
func (s *Supervisor) Kill() bool {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h == nil {
		return false
	}
	pid := h.PID()
	if err := h.Kill(); err != nil {
		s.logger.Warn("kill sidecar", "pid", pid, "error", err)
	}
	metrics.IncKill()
	s.emit(context.Background(), history.EventKilled, pid, 0, nil)
	s.logger.Info("sidecar killed", "pid", pid)
	return true
}

func (s *Supervisor) run(ctx context.Context) error {
	s.setState(StateProbingExisting)
	if alive, _ := s.prober.Alive(); alive {
		s.setState(StateSkippedSpawn)
		s.logger.Info("server already listening, not spawning", "probe", s.prober.Describe())
		s.emit(ctx, history.EventSkipped, 0, 0, nil)
		s.setState(StateReady)
		return nil
	}

	s.setState(StateSpawning)
	h, err := s.launcher.Launch(s.port)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSpawn, err)
		metrics.IncSpawnFailure()
		s.setState(StateFailed)
		s.logger.Error("sidecar spawn failed", "error", err)
		s.emit(ctx, history.EventSpawnFailed, 0, 0, err)
		return err
	}
	metrics.IncSpawn()
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	go s.watchExit(h)
	s.emit(ctx, history.EventSpawned, h.PID(), 0, nil)

	s.setState(StatePollingReady)
	start := time.Now()
	for {
		time.Sleep(s.pollInterval)
		if alive, _ := s.prober.Alive(); alive {
			time.Sleep(s.warmupGrace)
			break
		}
		if time.Since(start) > s.readyTimeout {
			err := fmt.Errorf("%w. Logs:\n%s", ErrReadyTimeout, s.logs.Snapshot())
			metrics.IncReadyTimeout()
			s.setState(StateTimedOut)
			s.logger.Error("sidecar not ready", "timeout", s.readyTimeout)
			s.emit(ctx, history.EventTimedOut, h.PID(), time.Since(start), err)
			return err
		}
	}

	elapsed := time.Since(start)
	metrics.ObserveReadyDuration(elapsed.Seconds())
	s.setState(StateReady)
	s.logger.Info("server ready after", "elapsed", elapsed)
	s.emit(ctx, history.EventReady, h.PID(), elapsed, nil)
	return nil
}

// watchExit drops the handle once the child is reaped so that only a live
// sidecar counts as owned. A handle already taken by Kill is left alone.
func (s *Supervisor) watchExit(h process.Handle) {
	<-h.Done()
	s.mu.Lock()
	owned := s.handle == h
	if owned {
		s.handle = nil
	}
	s.mu.Unlock()
	if !owned {
		return
	}
	pid, err := h.PID(), h.ExitErr()
	s.logger.Warn("sidecar exited", "pid", pid, "error", err)
	s.emit(context.Background(), history.EventExited, pid, 0, err)
}

func (s *Supervisor) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to {
		metrics.RecordStateTransition(from.String(), to.String())
	}
}

func (s *Supervisor) emit(ctx context.Context, t history.EventType, pid int, elapsed time.Duration, err error) {
	rec := history.Record{
		Name:    s.name,
		PID:     pid,
		Port:    s.port,
		State:   s.State().String(),
		Elapsed: elapsed,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	history.Emit(ctx, s.sink, s.logger, history.Event{Type: t, OccurredAt: time.Now(), Record: rec})
}
