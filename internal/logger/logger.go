package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config combines the supervisor's own structured logging with the
// rotating files that capture sidecar output.
type Config struct {
	Slog SlogConfig `mapstructure:"slog"`
	File FileConfig `mapstructure:"file"`
}

// SlogConfig controls the supervisor's slog output.
type SlogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // text or json
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
}

// FileConfig describes where sidecar stdout/stderr are persisted.
// If StdoutPath/StderrPath are empty, and Dir is set, files will be
// Dir/<name>.stdout.log and Dir/<name>.stderr.log
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	StdoutPath string `mapstructure:"stdout"`
	StderrPath string `mapstructure:"stderr"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NewSlogger builds a *slog.Logger writing to stderr.
func (c Config) NewSlogger() *slog.Logger {
	return c.NewSloggerTo(os.Stderr)
}

// NewSloggerTo builds a *slog.Logger writing to w.
func (c Config) NewSloggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}

	var h slog.Handler
	switch strings.ToLower(c.Slog.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		if c.Slog.Color {
			h = NewColorTextHandler(w, opts, c.Slog.TimeStamps)
		} else {
			h = slog.NewTextHandler(w, opts)
		}
	}
	return slog.New(h)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// ProcessWriters returns io.WriteClosers for stdout and stderr for given process name.
// Either may be nil when no destination is configured for that stream.
func (c Config) ProcessWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	f := c.File
	stdout := f.StdoutPath
	stderr := f.StderrPath
	if stdout == "" && f.Dir != "" {
		stdout = filepath.Join(f.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && f.Dir != "" {
		stderr = filepath.Join(f.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = f.rotating(stdout)
	}
	if stderr != "" {
		errW = f.rotating(stderr)
	}
	return outW, errW, nil
}

func (f FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

// Mirrors combines the console with the optional rotating files so sidecar
// output reaches both. The returned closer releases the files.
func (c Config) Mirrors(name string) (stdout io.Writer, stderr io.Writer, closer func() error, err error) {
	outW, errW, err := c.ProcessWriters(name)
	if err != nil {
		return nil, nil, nil, err
	}
	stdout, stderr = io.Writer(os.Stdout), io.Writer(os.Stderr)
	if outW != nil {
		stdout = io.MultiWriter(os.Stdout, outW)
	}
	if errW != nil {
		stderr = io.MultiWriter(os.Stderr, errW)
	}
	closer = func() error {
		var first error
		for _, cl := range []io.Closer{outW, errW} {
			if cl == nil {
				continue
			}
			if cerr := cl.Close(); cerr != nil && first == nil {
				first = cerr
			}
		}
		return first
	}
	return stdout, stderr, closer, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
