package process

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/loykin/sidekick/internal/logbuf"
)

// Command is a fully resolved program invocation.
type Command struct {
	Path string
	Args []string
	Env  []string // "K=V" pairs; nil inherits the parent environment
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Event is one line of child output. Line keeps its trailing newline when the child wrote one.
type Event struct {
	Stream logbuf.Stream
	Line   string
}

// Handle controls a spawned child.
type Handle interface {
	PID() int
	// Kill terminates the child (and its process group on POSIX).
	// Calling it again, or after the child exited, is a no-op.
	Kill() error
	// Done is closed once the child has been reaped.
	Done() <-chan struct{}
	// ExitErr is the cmd.Wait result, valid after Done is closed.
	ExitErr() error
}

// Spawner starts a command and streams its output until both pipes close.
type Spawner interface {
	Spawn(c Command) (<-chan Event, Handle, error)
}

// ExecSpawner implements Spawner with os/exec.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(c Command) (<-chan Event, Handle, error) {
	if c.Path == "" {
		return nil, nil, errors.New("empty command path")
	}
	// #nosec G204
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	events := make(chan Event, 64)
	h := &execHandle{cmd: cmd, done: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(2)
	go pump(stdout, logbuf.Stdout, events, &wg)
	go pump(stderr, logbuf.Stderr, events, &wg)
	go func() {
		// Both pipes must be drained before Wait closes them.
		wg.Wait()
		close(events)
		h.finish(cmd.Wait())
	}()
	return events, h, nil
}

func pump(r io.Reader, s logbuf.Stream, out chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			out <- Event{Stream: s, Line: line}
		}
		if err != nil {
			return
		}
	}
}

type execHandle struct {
	cmd      *exec.Cmd
	killOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	var err error
	h.killOnce.Do(func() { err = killTree(h.cmd.Process) })
	return err
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *execHandle) finish(err error) {
	h.mu.Lock()
	h.exitErr = err
	h.mu.Unlock()
	close(h.done)
}
