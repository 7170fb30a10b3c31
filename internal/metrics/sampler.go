package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics is a point-in-time resource sample of the sidecar.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sample reads CPU and memory usage of pid.
func Sample(pid int) (ProcessMetrics, error) {
	if pid <= 0 {
		return ProcessMetrics{}, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpuPercent = 0
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}
	return ProcessMetrics{
		PID:        int32(pid),
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}, nil
}

// Sampler periodically samples the owned sidecar process into the package
// gauges registered by Register.
type Sampler struct {
	interval time.Duration

	mu   sync.RWMutex
	last *ProcessMetrics

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSampler creates a Sampler; interval defaults to 5s.
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start samples pid() every interval until ctx is done or Stop is called.
// A pid of 0 means no owned sidecar; the last sample is cleared.
func (s *Sampler) Start(ctx context.Context, pid func() int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect(pid())
			}
		}
	}()
}

// Stop halts sampling and waits for the goroutine to exit.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Last returns the most recent sample, if any.
func (s *Sampler) Last() (ProcessMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return ProcessMetrics{}, false
	}
	return *s.last, true
}

func (s *Sampler) collect(pid int) {
	if pid <= 0 {
		sidecarCPU.Set(0)
		sidecarMemoryMB.Set(0)
		sidecarThreads.Set(0)
		s.mu.Lock()
		s.last = nil
		s.mu.Unlock()
		return
	}
	m, err := Sample(pid)
	if err != nil {
		slog.Debug("Failed to collect sidecar metrics", "pid", pid, "error", err)
		return
	}
	sidecarCPU.Set(m.CPUPercent)
	sidecarMemoryMB.Set(m.MemoryMB)
	sidecarThreads.Set(float64(m.NumThreads))
	s.mu.Lock()
	s.last = &m
	s.mu.Unlock()
}
