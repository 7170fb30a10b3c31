package server

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// parseTail reads a non-negative line count; empty means all (0).
func parseTail(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseWait reads a positive duration, falling back to def when empty.
func parseWait(s string, def time.Duration) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// ensureWait is parseWait capped at MaxEnsureWait.
func ensureWait(s string, def time.Duration) (time.Duration, bool) {
	d, ok := parseWait(s, def)
	if !ok {
		return 0, false
	}
	return min(d, MaxEnsureWait), true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
