// Package sidekick embeds a supervisor for a long-lived sidecar server:
// it picks a port, launches `<sidecar> serve --port=N` when nothing is
// listening yet, waits for readiness, keeps a bounded transcript of the
// sidecar's output and keeps the user's installed CLI in sync.
package sidekick

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/sidekick/internal/config"
	"github.com/loykin/sidekick/internal/detector"
	"github.com/loykin/sidekick/internal/history"
	"github.com/loykin/sidekick/internal/history/factory"
	"github.com/loykin/sidekick/internal/installer"
	"github.com/loykin/sidekick/internal/logbuf"
	"github.com/loykin/sidekick/internal/metrics"
	"github.com/loykin/sidekick/internal/port"
	"github.com/loykin/sidekick/internal/process"
	iapi "github.com/loykin/sidekick/internal/server"
	"github.com/loykin/sidekick/internal/supervisor"
	"github.com/loykin/sidekick/internal/version"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = supervisor.Status

type SyncResult = installer.SyncResult

type LogEntry = logbuf.Entry

type HistorySink = history.Sink

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// App wires the supervisor, installer and diagnostics for one sidecar.
type App struct {
	cfg     *Config
	port    int
	logger  *slog.Logger
	logs    *logbuf.Buffer
	sup     *supervisor.Supervisor
	inst    *installer.Installer
	sampler *metrics.Sampler
	sink    history.Sink
	closers []func() error
}

type options struct {
	logger   *slog.Logger
	sink     history.Sink
	launcher supervisor.Launcher
	port     int
	supOpts  []supervisor.Option
}

// Option customises New.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }
func WithHistory(s HistorySink) Option { return func(o *options) { o.sink = s } }
func WithPort(p int) Option            { return func(o *options) { o.port = p } }
func WithLauncher(l supervisor.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithSupervisorOptions passes options through to the readiness supervisor.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(o *options) { o.supOpts = append(o.supOpts, opts...) }
}

// New resolves the port and builds every component. Nothing is spawned
// until Start.
func New(c *Config, opts ...Option) (*App, error) {
	if c == nil {
		var err error
		if c, err = cfg.Load(""); err != nil {
			return nil, err
		}
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	lc := c.Logger()
	if o.logger == nil {
		o.logger = lc.NewSlogger()
	}
	a := &App{cfg: c, logger: o.logger}

	a.port = o.port
	if a.port == 0 {
		p, err := port.NewResolver(c.PortEnv).Resolve()
		if err != nil {
			return nil, err
		}
		a.port = p
	}

	sidecar, err := c.SidecarPath()
	if err != nil {
		return nil, fmt.Errorf("locate sidecar: %w", err)
	}
	name := filepath.Base(sidecar)

	outW, errW, closeLogs, err := lc.Mirrors(name)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLogs)
	a.logs = logbuf.New(logbuf.DefaultCapacity, logbuf.WithMirrors(outW, errW))

	a.sink = o.sink
	if a.sink == nil && c.History.DSN != "" {
		s, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		a.sink = s
		if cl, ok := s.(io.Closer); ok {
			a.closers = append(a.closers, cl.Close)
		}
	}

	launcher := o.launcher
	if launcher == nil {
		childEnv, err := c.SidecarEnv()
		if err != nil {
			a.closeAll()
			return nil, err
		}
		launcher = &process.Launcher{
			Spawner:  process.ExecSpawner{},
			Strategy: c.Strategy(),
			Sidecar:  sidecar,
			Env:      childEnv,
			Logs:     a.logs,
			Logger:   a.logger,
		}
	}

	supOpts := append([]supervisor.Option{
		supervisor.WithLogs(a.logs),
		supervisor.WithLogger(a.logger),
		supervisor.WithHistory(a.sink),
		supervisor.WithName(name),
	}, o.supOpts...)
	a.sup = supervisor.New(a.port, launcher, supOpts...)

	a.inst = &installer.Installer{
		Sidecar:    sidecar,
		AppVersion: version.String(),
		Dev:        version.Dev(),
		Dir:        c.Install.Dir,
		Binary:     c.Install.Binary,
		Logger:     a.logger.With("component", "installer"),
		History:    a.sink,
	}

	if c.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			a.closeAll()
			return nil, err
		}
		a.sampler = metrics.NewSampler(c.Metrics.SampleInterval)
	}
	return a, nil
}

func (a *App) Port() int                       { return a.port }
func (a *App) Config() *Config                 { return a.cfg }
func (a *App) Installer() *installer.Installer { return a.inst }

// Start brings the sidecar up in the background and syncs the installed CLI
// once. It returns immediately.
func (a *App) Start(ctx context.Context) {
	a.sup.Start(ctx)
	go func() {
		if _, err := a.inst.Sync(ctx); err != nil {
			a.logger.Warn("cli sync failed", "error", err)
		}
	}()
	if a.sampler != nil {
		a.sampler.Start(ctx, a.sup.PID)
	}
}

// EnsureServerStarted blocks until the sidecar is reachable or has failed.
// Every caller gets the same result.
func (a *App) EnsureServerStarted(ctx context.Context) error {
	return a.sup.EnsureStarted(ctx)
}

// KillSidecar terminates the sidecar if this App spawned it.
func (a *App) KillSidecar() bool { return a.sup.Kill() }

// InstallCLI installs the bundled sidecar as the user's CLI and returns its path.
func (a *App) InstallCLI(ctx context.Context) (string, error) { return a.inst.Install(ctx) }

// SyncCLI reinstalls the CLI when it is older than this application.
func (a *App) SyncCLI(ctx context.Context) (SyncResult, error) { return a.inst.Sync(ctx) }

func (a *App) Status() Status      { return a.sup.Status() }
func (a *App) Logs() []LogEntry    { return a.logs.Entries() }
func (a *App) LogSnapshot() string { return a.logs.Snapshot() }

// ProcessMetrics returns the latest resource sample of the owned sidecar.
func (a *App) ProcessMetrics() (metrics.ProcessMetrics, bool) {
	if a.sampler == nil {
		return metrics.ProcessMetrics{}, false
	}
	return a.sampler.Last()
}

// Handler returns the control API, mountable in any mux.
func (a *App) Handler(basePath string) http.Handler {
	return iapi.NewRouter(a, basePath, a.cfg.Metrics.Enabled).Handler()
}

// NewHTTPServer builds the control API server from the [server] section.
func (a *App) NewHTTPServer() *http.Server {
	r := iapi.NewRouter(a, a.cfg.Server.BasePath, a.cfg.Metrics.Enabled)
	return iapi.NewHTTPServer(a.cfg.Server.Listen, r)
}

// Close kills the owned sidecar and releases log files and history sinks.
func (a *App) Close() error {
	a.KillSidecar()
	if a.sampler != nil {
		a.sampler.Stop()
	}
	return a.closeAll()
}

func (a *App) closeAll() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// ResolvePort applies the port precedence (baked, envKey, ephemeral) without
// building an App.
func ResolvePort(envKey string) (int, error) { return port.NewResolver(envKey).Resolve() }

// Probe reports whether something accepts TCP connections on 127.0.0.1:p.
func Probe(p int) bool {
	alive, _ := detector.Loopback(p).Alive()
	return alive
}

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
