package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/sidekick/internal/installer"
	"github.com/loykin/sidekick/internal/logbuf"
	"github.com/loykin/sidekick/internal/metrics"
	"github.com/loykin/sidekick/internal/supervisor"
)

type fakeBackend struct {
	status    supervisor.Status
	pm        *metrics.ProcessMetrics
	logs      *logbuf.Buffer
	ensureErr error
	ensureDly time.Duration
	owned     atomic.Bool
	installP  string
	installE  error
	syncRes   installer.SyncResult
	syncErr   error
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{logs: logbuf.New(10, logbuf.WithMirrors(nil, nil))}
	b.status = supervisor.Status{State: "ready", Port: 4096, PID: 321, Owned: true, Ready: true}
	b.owned.Store(true)
	return b
}

func (b *fakeBackend) Status() supervisor.Status { return b.status }
func (b *fakeBackend) ProcessMetrics() (metrics.ProcessMetrics, bool) {
	if b.pm == nil {
		return metrics.ProcessMetrics{}, false
	}
	return *b.pm, true
}
func (b *fakeBackend) Logs() []logbuf.Entry { return b.logs.Entries() }
func (b *fakeBackend) LogSnapshot() string  { return b.logs.Snapshot() }
func (b *fakeBackend) EnsureServerStarted(ctx context.Context) error {
	if b.ensureDly > 0 {
		select {
		case <-time.After(b.ensureDly):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.ensureErr
}
func (b *fakeBackend) KillSidecar() bool { return b.owned.Swap(false) }
func (b *fakeBackend) InstallCLI(context.Context) (string, error) {
	return b.installP, b.installE
}
func (b *fakeBackend) SyncCLI(context.Context) (installer.SyncResult, error) {
	return b.syncRes, b.syncErr
}

func setupRouter(t *testing.T, b Backend, base string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(b, base, true).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStatus(t *testing.T) {
	b := newFakeBackend()
	b.pm = &metrics.ProcessMetrics{PID: 321, MemoryMB: 12.5}
	h := setupRouter(t, b, "/api")
	rec := doReq(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	st := decode[StatusResp](t, rec)
	if st.State != "ready" || st.Port != 4096 || st.PID != 321 || !st.Ready {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Process == nil || st.Process.MemoryMB != 12.5 {
		t.Fatalf("process metrics missing: %+v", st.Process)
	}
}

func TestStatusWithoutOwnedProcessOmitsMetrics(t *testing.T) {
	b := newFakeBackend()
	b.status = supervisor.Status{State: "ready", Port: 4096, Ready: true}
	b.pm = &metrics.ProcessMetrics{PID: 1}
	rec := doReq(t, setupRouter(t, b, ""), http.MethodGet, "/status", nil)
	if strings.Contains(rec.Body.String(), `"process"`) {
		t.Fatalf("unexpected process block: %s", rec.Body.String())
	}
}

func TestLogs(t *testing.T) {
	b := newFakeBackend()
	b.logs.Append(logbuf.Stdout, "one")
	b.logs.Append(logbuf.Stderr, "two")
	b.logs.Append(logbuf.Stdout, "three")
	h := setupRouter(t, b, "")

	rec := doReq(t, h, http.MethodGet, "/logs", nil)
	entries := decode[[]logbuf.Entry](t, rec)
	if len(entries) != 3 || entries[0].Line != "one\n" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	rec = doReq(t, h, http.MethodGet, "/logs?tail=2", nil)
	entries = decode[[]logbuf.Entry](t, rec)
	if len(entries) != 2 || entries[0].Line != "two\n" || entries[0].Stream != logbuf.Stderr {
		t.Fatalf("unexpected tail: %+v", entries)
	}

	rec = doReq(t, h, http.MethodGet, "/logs?format=text", nil)
	if rec.Body.String() != "[STDOUT] one\n[STDERR] two\n[STDOUT] three\n" {
		t.Fatalf("unexpected text logs: %q", rec.Body.String())
	}
	rec = doReq(t, h, http.MethodGet, "/logs?format=text&tail=1", nil)
	if rec.Body.String() != "[STDOUT] three\n" {
		t.Fatalf("unexpected text tail: %q", rec.Body.String())
	}

	rec = doReq(t, h, http.MethodGet, "/logs?tail=x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEnsure(t *testing.T) {
	b := newFakeBackend()
	h := setupRouter(t, b, "")
	if rec := doReq(t, h, http.MethodPost, "/ensure", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	b.ensureErr = errors.New("Failed to spawn OpenCode Server. Logs:\n[STDERR] boom\n")
	rec := doReq(t, h, http.MethodPost, "/ensure", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if er := decode[errorResp](t, rec); !strings.Contains(er.Error, "[STDERR] boom") {
		t.Fatalf("error lost logs: %q", er.Error)
	}

	b.ensureErr = nil
	b.ensureDly = time.Second
	rec = doReq(t, h, http.MethodPost, "/ensure?wait=20ms", nil)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}

	if rec := doReq(t, h, http.MethodPost, "/ensure?wait=nope", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	b := newFakeBackend()
	h := setupRouter(t, b, "/api")
	if kr := decode[KillResp](t, doReq(t, h, http.MethodPost, "/api/kill", nil)); !kr.Killed {
		t.Fatalf("first kill should report killed")
	}
	if kr := decode[KillResp](t, doReq(t, h, http.MethodPost, "/api/kill", nil)); kr.Killed {
		t.Fatalf("second kill should be a no-op")
	}
}

func TestInstallAndSync(t *testing.T) {
	b := newFakeBackend()
	b.installP = "/home/u/.opencode/bin/opencode"
	b.syncRes = installer.SyncUpToDate
	h := setupRouter(t, b, "")

	if ir := decode[InstallResp](t, doReq(t, h, http.MethodPost, "/install-cli", nil)); ir.Path != b.installP {
		t.Fatalf("unexpected path: %q", ir.Path)
	}
	if sr := decode[SyncResp](t, doReq(t, h, http.MethodPost, "/sync-cli", nil)); sr.Result != "up_to_date" {
		t.Fatalf("unexpected result: %q", sr.Result)
	}

	cases := []struct {
		err  error
		code int
	}{
		{installer.ErrUnsupportedPlatform, http.StatusNotImplemented},
		{installer.ErrSidecarNotFound, http.StatusPreconditionFailed},
		{&installer.ScriptError{ExitCode: 1, Stderr: "nope"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		b.installE = tc.err
		rec := doReq(t, h, http.MethodPost, "/install-cli", nil)
		if rec.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
	}

	b.syncErr = &installer.VersionParseError{Raw: "x", Err: errors.New("bad")}
	rec := doReq(t, h, http.MethodPost, "/sync-cli", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, newFakeBackend(), "/api")
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	gin.SetMode(gin.TestMode)
	h = NewRouter(newFakeBackend(), "", false).Handler()
	if rec := doReq(t, h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics should not be mounted, got %d", rec.Code)
	}
}

func TestNewHTTPServer(t *testing.T) {
	srv := NewHTTPServer("127.0.0.1:0", NewRouter(newFakeBackend(), "/api", false))
	if srv.Addr != "127.0.0.1:0" || srv.Handler == nil || srv.ReadHeaderTimeout == 0 {
		t.Fatalf("unexpected server: %+v", srv)
	}
}
