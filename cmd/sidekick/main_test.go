package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sidekick.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestHelpMentionsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "sidekick")
	for _, c := range []string{"run", "port", "probe", "install-cli", "sync-cli", "status", "logs", "kill", "ensure", "version"} {
		assert.Contains(t, out, c)
	}
}

func TestEnsureHelpStatesWaitCap(t *testing.T) {
	out, err := execute(t, "ensure", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "capped at 13s")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sidekick dev"), out)
}

func TestPortCommandUsesEnvOverride(t *testing.T) {
	t.Setenv("OPENCODE_PORT", "4321")
	out, err := execute(t, "port")
	require.NoError(t, err)
	assert.Equal(t, "4321\n", out)
}

func TestProbeCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	p := ln.Addr().(*net.TCPAddr).Port

	out, err := execute(t, "probe", "--port", strconv.Itoa(p))
	require.NoError(t, err)
	var res struct {
		Port  int  `json:"port"`
		Alive bool `json:"alive"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, p, res.Port)
	assert.True(t, res.Alive)

	_, err = execute(t, "probe", "--port", "0")
	require.Error(t, err)
}

// fakeSupervisor answers the control API the way a running `sidekick run` does.
func fakeSupervisor(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"ready","port":4096,"pid":42,"owned":true,"ready":true,"failed":false}`))
	})
	mux.HandleFunc("/api/logs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "text" {
			_, _ = w.Write([]byte("[STDOUT] listening on " + r.URL.Query().Get("tail") + "\n"))
			return
		}
		_, _ = w.Write([]byte(`[{"seq":1,"stream":0,"line":"listening\n"}]`))
	})
	mux.HandleFunc("/api/kill", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"killed":true}`))
	})
	mux.HandleFunc("/api/ensure", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") == "1ms" {
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write([]byte(`{"error":"context deadline exceeded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ready":true}`))
	})
	mux.HandleFunc("/api/install-cli", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"path":"/home/u/.opencode/bin/opencode"}`))
	})
	mux.HandleFunc("/api/sync-cli", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"up_to_date"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteCommands(t *testing.T) {
	srv := fakeSupervisor(t)
	api := srv.URL + "/api"

	out, err := execute(t, "status", "--api-url", api)
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "ready"`)
	assert.Contains(t, out, `"pid": 42`)

	out, err = execute(t, "logs", "--api-url", api, "--tail", "5")
	require.NoError(t, err)
	assert.Equal(t, "[STDOUT] listening on 5\n", out)

	out, err = execute(t, "logs", "--api-url", api, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"seq": 1`)

	out, err = execute(t, "kill", "--api-url", api)
	require.NoError(t, err)
	assert.Equal(t, "sidecar killed\n", out)

	out, err = execute(t, "ensure", "--api-url", api)
	require.NoError(t, err)
	assert.Equal(t, "ready\n", out)

	_, err = execute(t, "ensure", "--api-url", api, "--wait", "1ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline")

	out, err = execute(t, "install-cli", "--api-url", api)
	require.NoError(t, err)
	assert.Equal(t, "/home/u/.opencode/bin/opencode\n", out)

	out, err = execute(t, "sync-cli", "--api-url", api)
	require.NoError(t, err)
	assert.Equal(t, "up_to_date\n", out)
}

func TestAPIURLFromConfig(t *testing.T) {
	cfg := writeConfig(t, "[server]\nlisten = \"0.0.0.0:9123\"\nbase_path = \"/ctl/\"\n")
	u, err := apiURL("", cfg)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9123/ctl", u)

	u, err = apiURL("http://remote:8089/api/", cfg)
	require.NoError(t, err)
	assert.Equal(t, "http://remote:8089/api", u)

	_, err = apiURL("", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLocalSyncCLISkipsDevBuild(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := writeConfig(t, "[sidecar]\nbinary = \"/nonexistent/opencode-cli\"\n")
	out, err := execute(t, "--config", cfg, "sync-cli")
	require.NoError(t, err)
	assert.Equal(t, "skipped_dev\n", out)
}

func TestRunStopsOnCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix process handling")
	}
	t.Setenv("HOME", t.TempDir())
	cfg := writeConfig(t, `
[sidecar]
binary = "/nonexistent/opencode-cli"
strategy = "direct"

[server]
listen = "127.0.0.1:0"
`)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := runSupervisor(ctx, RunFlags{ConfigPath: cfg, ShutdownTimeout: time.Second})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
