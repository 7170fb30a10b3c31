package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sidekick/internal/installer"
	"github.com/loykin/sidekick/internal/logbuf"
	"github.com/loykin/sidekick/internal/metrics"
	"github.com/loykin/sidekick/internal/supervisor"
)

// Backend is what the control API drives.
type Backend interface {
	Status() supervisor.Status
	ProcessMetrics() (metrics.ProcessMetrics, bool)
	Logs() []logbuf.Entry
	LogSnapshot() string
	EnsureServerStarted(ctx context.Context) error
	KillSidecar() bool
	InstallCLI(ctx context.Context) (string, error)
	SyncCLI(ctx context.Context) (installer.SyncResult, error)
}

// Router provides embeddable HTTP handlers for the sidecar supervisor.
// Endpoints:
//   GET  {basePath}/status
//   GET  {basePath}/logs         query: tail=N, format=text
//   POST {basePath}/ensure       query: wait=7s (optional, capped at MaxEnsureWait)
//   POST {basePath}/kill
//   POST {basePath}/install-cli
//   POST {basePath}/sync-cli
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	b           Backend
	basePath    string
	metrics     bool
	ensureGrace time.Duration
}

// NewRouter constructs a new Router with configurable basePath.
// When withMetrics is set, the Prometheus handler is mounted at /metrics.
func NewRouter(b Backend, basePath string, withMetrics bool) *Router {
	return &Router{
		b:           b,
		basePath:    sanitizeBase(basePath),
		metrics:     withMetrics,
		ensureGrace: supervisor.ReadyTimeout + time.Second,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/logs", r.handleLogs)
	group.POST("/ensure", r.handleEnsure)
	group.POST("/kill", r.handleKill)
	group.POST("/install-cli", r.handleInstallCLI)
	group.POST("/sync-cli", r.handleSyncCLI)
	return g
}

// WriteTimeout bounds every control API reply. MaxEnsureWait keeps /ensure
// answering before that deadline.
const (
	WriteTimeout  = 15 * time.Second
	MaxEnsureWait = WriteTimeout - 2*time.Second
)

// NewHTTPServer wraps the router in an http.Server for addr. The caller runs
// ListenAndServe and Shutdown.
func NewHTTPServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// StatusResp is the body of GET /status.
type StatusResp struct {
	supervisor.Status
	Process *metrics.ProcessMetrics `json:"process,omitempty"`
}

type KillResp struct {
	Killed bool `json:"killed"`
}

type InstallResp struct {
	Path string `json:"path"`
}

type SyncResp struct {
	Result string `json:"result"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := StatusResp{Status: r.b.Status()}
	if pm, ok := r.b.ProcessMetrics(); ok && resp.Owned {
		resp.Process = &pm
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleLogs(c *gin.Context) {
	tail, ok := parseTail(c.Query("tail"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "tail must be a non-negative integer"})
		return
	}
	if c.Query("format") == "text" {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(http.StatusOK)
		if tail == 0 {
			_, _ = c.Writer.WriteString(r.b.LogSnapshot())
			return
		}
		for _, e := range lastN(r.b.Logs(), tail) {
			_, _ = c.Writer.WriteString(e.String())
		}
		return
	}
	entries := r.b.Logs()
	if tail > 0 {
		entries = lastN(entries, tail)
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleEnsure(c *gin.Context) {
	wait, ok := ensureWait(c.Query("wait"), r.ensureGrace)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "wait must be a positive duration"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	if err := r.b.EnsureServerStarted(ctx); err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			code = http.StatusGatewayTimeout
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleKill(c *gin.Context) {
	writeJSON(c, http.StatusOK, KillResp{Killed: r.b.KillSidecar()})
}

func (r *Router) handleInstallCLI(c *gin.Context) {
	p, err := r.b.InstallCLI(c.Request.Context())
	if err != nil {
		writeJSON(c, installStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, InstallResp{Path: p})
}

func (r *Router) handleSyncCLI(c *gin.Context) {
	res, err := r.b.SyncCLI(c.Request.Context())
	if err != nil {
		writeJSON(c, installStatus(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, SyncResp{Result: res.String()})
}

func installStatus(err error) int {
	switch {
	case errors.Is(err, installer.ErrUnsupportedPlatform):
		return http.StatusNotImplemented
	case errors.Is(err, installer.ErrSidecarNotFound), errors.Is(err, installer.ErrNoHome):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func lastN(entries []logbuf.Entry, n int) []logbuf.Entry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}
