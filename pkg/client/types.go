package client

import "time"

// Status mirrors GET /status.
type Status struct {
	State   string          `json:"state"`
	Port    int             `json:"port"`
	PID     int             `json:"pid,omitempty"`
	Owned   bool            `json:"owned"`
	Ready   bool            `json:"ready"`
	Failed  bool            `json:"failed"`
	Error   string          `json:"error,omitempty"`
	Process *ProcessMetrics `json:"process,omitempty"`
}

// ProcessMetrics is the resource sample of the owned sidecar.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// LogEntry is one captured sidecar line. Stream is 0 for stdout, 1 for stderr.
type LogEntry struct {
	Seq    uint64 `json:"seq"`
	Stream int    `json:"stream"`
	Line   string `json:"line"`
}

// ErrorResponse is the body of any non-200 reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

type killResponse struct {
	Killed bool `json:"killed"`
}

type installResponse struct {
	Path string `json:"path"`
}

type syncResponse struct {
	Result string `json:"result"`
}
