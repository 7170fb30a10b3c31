package process

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/sidekick/internal/logbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	mu    sync.Mutex
	kills int
	done  chan struct{}
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) PID() int { return 4242 }
func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kills++
	return nil
}
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) ExitErr() error        { return nil }

type fakeSpawner struct {
	got    Command
	events chan Event
	err    error
}

func (f *fakeSpawner) Spawn(c Command) (<-chan Event, Handle, error) {
	f.got = c
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.events, newFakeHandle(), nil
}

func waitLen(t *testing.T, b *logbuf.Buffer, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for b.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("buffer has %d entries, want %d", b.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLauncherDrainsIntoBuffer(t *testing.T) {
	sp := &fakeSpawner{events: make(chan Event, 4)}
	buf := logbuf.New(10, logbuf.WithMirrors(nil, nil))
	l := &Launcher{
		Spawner:  sp,
		Strategy: Direct{},
		Sidecar:  "/opt/app/opencode-cli",
		Env:      []string{"OPENCODE_CLIENT=desktop"},
		Logs:     buf,
	}

	h, err := l.Launch(4096)
	require.NoError(t, err)
	assert.Equal(t, 4242, h.PID())
	assert.Equal(t, "/opt/app/opencode-cli", sp.got.Path)
	assert.Equal(t, []string{"serve", "--port=4096"}, sp.got.Args)
	assert.Equal(t, []string{"OPENCODE_CLIENT=desktop"}, sp.got.Env)

	sp.events <- Event{Stream: logbuf.Stdout, Line: "opencode server listening\n"}
	sp.events <- Event{Stream: logbuf.Stderr, Line: "warn\n"}
	close(sp.events)

	waitLen(t, buf, 2)
	assert.Equal(t, "[STDOUT] opencode server listening\n[STDERR] warn\n", buf.Snapshot())
}

func TestLauncherSpawnError(t *testing.T) {
	l := &Launcher{Spawner: &fakeSpawner{err: errors.New("exec format error")}, Strategy: Direct{}, Sidecar: "/x"}
	_, err := l.Launch(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec format error")

	_, err = (&Launcher{}).Launch(1)
	require.Error(t, err)
}

func TestLauncherRealChildThroughLoginShell(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	script := dir + "/fake-sidecar"
	writeScript(t, script, "#!/bin/sh\necho \"args: $*\"\necho boom 1>&2\n")

	buf := logbuf.New(10, logbuf.WithMirrors(nil, nil))
	l := &Launcher{Strategy: LoginShell{Shell: "/bin/sh"}, Sidecar: script, Logs: buf}
	h, err := l.Launch(6553)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("child did not exit")
	}
	waitLen(t, buf, 2)
	snap := buf.Snapshot()
	assert.True(t, strings.Contains(snap, "[STDOUT] args: serve --port=6553\n"), snap)
	assert.True(t, strings.Contains(snap, "[STDERR] boom\n"), snap)
}
