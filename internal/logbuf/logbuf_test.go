package logbuf

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() Option { return WithMirrors(nil, nil) }

func TestAppendEvictsOldestFIFO(t *testing.T) {
	b := New(0, quiet())
	require.Equal(t, DefaultCapacity, b.Cap())

	const n = 537
	for i := 0; i < n; i++ {
		b.Append(Stdout, fmt.Sprintf("line %d\n", i))
	}
	require.Equal(t, DefaultCapacity, b.Len())

	entries := b.Entries()
	require.Len(t, entries, DefaultCapacity)
	for i, e := range entries {
		want := fmt.Sprintf("line %d\n", n-DefaultCapacity+i)
		assert.Equal(t, want, e.Line)
		assert.Equal(t, uint64(n-DefaultCapacity+i+1), e.Seq)
	}
}

func TestSnapshotFormat(t *testing.T) {
	b := New(3, quiet())
	b.Append(Stdout, "listening\n")
	b.Append(Stderr, "warn: no config") // newline added

	assert.Equal(t, "[STDOUT] listening\n[STDERR] warn: no config\n", b.Snapshot())

	b.Append(Stdout, "a")
	b.Append(Stdout, "b")
	assert.Equal(t, "[STDERR] warn: no config\n[STDOUT] a\n[STDOUT] b\n", b.Snapshot())
}

func TestEmptySnapshot(t *testing.T) {
	b := New(5, quiet())
	assert.Equal(t, "", b.Snapshot())
	assert.Equal(t, 0, b.Len())
}

func TestMirrorsByStream(t *testing.T) {
	var out, errw bytes.Buffer
	b := New(10, WithMirrors(&out, &errw))
	b.Append(Stdout, "hello\n")
	b.Append(Stderr, "oops\n")
	assert.Equal(t, "hello\n", out.String())
	assert.Equal(t, "oops\n", errw.String())
}

func TestConcurrentAppendKeepsCapacity(t *testing.T) {
	b := New(50, quiet())
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.Append(Stream(i%2), fmt.Sprintf("g%d-%d", g, i))
				_ = b.Snapshot()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 50, b.Len())
	entries := b.Entries()
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Seq, entries[i].Seq)
	}
	assert.Equal(t, 50, strings.Count(b.Snapshot(), "\n"))
}
