// Package logbuf keeps a bounded, in-memory transcript of sidecar output.
package logbuf

import (
	"io"
	"os"
	"strings"
	"sync"
)

// DefaultCapacity is the number of lines retained for diagnostics.
const DefaultCapacity = 200

// Stream tags which child stream a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "STDERR"
	}
	return "STDOUT"
}

// Entry is one captured line. Line always ends in '\n'.
type Entry struct {
	Seq    uint64 `json:"seq"`
	Stream Stream `json:"stream"`
	Line   string `json:"line"`
}

// String renders the entry the way it appears in a Snapshot.
func (e Entry) String() string { return "[" + e.Stream.String() + "] " + e.Line }

// Buffer is a fixed-capacity FIFO of entries. Appends beyond capacity evict
// the oldest entry. Appended lines are also mirrored to Stdout/Stderr writers.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int
	seq     uint64

	outMirror io.Writer
	errMirror io.Writer
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMirrors sets where appended lines are echoed. A nil writer disables that stream's mirror.
func WithMirrors(stdout, stderr io.Writer) Option {
	return func(b *Buffer) {
		b.outMirror = stdout
		b.errMirror = stderr
	}
}

// New creates a Buffer with the given capacity (DefaultCapacity when <= 0),
// mirroring to os.Stdout and os.Stderr unless overridden.
func New(capacity int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		entries:   make([]Entry, capacity),
		outMirror: os.Stdout,
		errMirror: os.Stderr,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Append stores line tagged with stream, evicting the oldest entry when full.
func (b *Buffer) Append(stream Stream, line string) Entry {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	b.mu.Lock()
	b.seq++
	e := Entry{Seq: b.seq, Stream: stream, Line: line}
	if b.count < len(b.entries) {
		b.entries[(b.start+b.count)%len(b.entries)] = e
		b.count++
	} else {
		b.entries[b.start] = e
		b.start = (b.start + 1) % len(b.entries)
	}
	b.mu.Unlock()

	// mirror outside the lock; best-effort
	w := b.outMirror
	if stream == Stderr {
		w = b.errMirror
	}
	if w != nil {
		_, _ = io.WriteString(w, line)
	}
	return e
}

// Entries returns a copy of the buffered entries, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(b.start+i)%len(b.entries)]
	}
	return out
}

// Snapshot concatenates the buffered entries in insertion order.
func (b *Buffer) Snapshot() string {
	var sb strings.Builder
	for _, e := range b.Entries() {
		sb.WriteString(e.String())
	}
	return sb.String()
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the maximum number of entries retained.
func (b *Buffer) Cap() int { return len(b.entries) }
