package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/sidekick/internal/env"
	"github.com/loykin/sidekick/internal/logger"
	"github.com/loykin/sidekick/internal/port"
	"github.com/loykin/sidekick/internal/process"
)

// EnvPrefix is the prefix of environment overrides, e.g. SIDEKICK_SIDECAR_BINARY.
const EnvPrefix = "SIDEKICK"

const DefaultAppID = "ai.opencode.desktop"

// Config represents the top-level TOML structure.
type Config struct {
	AppID    string        `toml:"app_id" mapstructure:"app_id"`
	PortEnv  string        `toml:"port_env" mapstructure:"port_env"`
	EnvFiles []string      `toml:"env_files" mapstructure:"env_files"`
	Sidecar  SidecarConfig `toml:"sidecar" mapstructure:"sidecar"`
	Install  InstallConfig `toml:"install" mapstructure:"install"`
	Log      LogConfig     `toml:"log" mapstructure:"log"`
	Server   ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics  MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History  HistoryConfig `toml:"history" mapstructure:"history"`
}

type SidecarConfig struct {
	Binary   string   `toml:"binary" mapstructure:"binary"`     // defaults to opencode-cli next to the executable
	Client   string   `toml:"client" mapstructure:"client"`     // OPENCODE_CLIENT
	Strategy string   `toml:"strategy" mapstructure:"strategy"` // "", login-shell or direct
	Shell    string   `toml:"shell" mapstructure:"shell"`
	Env      []string `toml:"env" mapstructure:"env"`
}

type InstallConfig struct {
	Dir    string `toml:"dir" mapstructure:"dir"`
	Binary string `toml:"binary" mapstructure:"binary"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled        bool          `toml:"enabled" mapstructure:"enabled"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_id", DefaultAppID)
	v.SetDefault("port_env", port.DefaultEnv)
	v.SetDefault("env_files", []string{})
	v.SetDefault("sidecar.binary", "")
	v.SetDefault("sidecar.client", "desktop")
	v.SetDefault("sidecar.strategy", "")
	v.SetDefault("sidecar.shell", "")
	v.SetDefault("sidecar.env", []string{})
	v.SetDefault("install.dir", ".opencode/bin")
	v.SetDefault("install.binary", "opencode")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.stdout", "")
	v.SetDefault("log.stderr", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("server.listen", "127.0.0.1:8089")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.sample_interval", 5*time.Second)
	v.SetDefault("history.dsn", "")
}

// Load reads path (TOML, optional when empty) and applies SIDEKICK_* overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppID) == "" {
		return fmt.Errorf("app_id must not be empty")
	}
	switch c.Sidecar.Strategy {
	case "", "login-shell", "direct":
	default:
		return fmt.Errorf("unknown sidecar strategy %q", c.Sidecar.Strategy)
	}
	if c.Metrics.Enabled && c.Metrics.SampleInterval < 0 {
		return fmt.Errorf("metrics.sample_interval must not be negative")
	}
	return nil
}

// Logger converts the [log] section.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      c.Log.Level,
			Format:     c.Log.Format,
			Color:      c.Log.Color,
			TimeStamps: c.Log.TimeStamps,
		},
		File: logger.FileConfig{
			Dir:        c.Log.Dir,
			StdoutPath: c.Log.Stdout,
			StderrPath: c.Log.Stderr,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// SidecarPath resolves the sidecar binary.
func (c *Config) SidecarPath() (string, error) {
	if c.Sidecar.Binary != "" {
		return filepath.Abs(c.Sidecar.Binary)
	}
	return process.SidecarPath(process.DefaultSidecarName)
}

// Strategy returns the configured launch shape.
func (c *Config) Strategy() process.Strategy {
	switch c.Sidecar.Strategy {
	case "login-shell":
		return process.LoginShell{Shell: c.Sidecar.Shell}
	case "direct":
		return process.Direct{}
	default:
		return process.DefaultStrategy()
	}
}

// SidecarEnv composes the sidecar environment: the OS environment, then
// env_files in order, then the fixed desktop variables, then sidecar.env.
func (c *Config) SidecarEnv() ([]string, error) {
	dataDir, err := AppLocalDataDir(c.AppID)
	if err != nil {
		return nil, err
	}
	e := env.New()
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e.SetAll(pairs)
	}
	e.Set("OPENCODE_EXPERIMENTAL_ICON_DISCOVERY", "true")
	e.Set("OPENCODE_CLIENT", c.Sidecar.Client)
	e.Set("XDG_STATE_HOME", dataDir)
	e.SetAll(c.Sidecar.Env)
	return e.Merge(nil), nil
}

// AppLocalDataDir returns the per-user, machine-local data directory for appID.
func AppLocalDataDir(appID string) (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	case "darwin":
		if h, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(h, "Library", "Application Support")
		}
	default:
		base = os.Getenv("XDG_DATA_HOME")
		if base == "" {
			if h, err := os.UserHomeDir(); err == nil {
				base = filepath.Join(h, ".local", "share")
			}
		}
	}
	if base == "" {
		return "", fmt.Errorf("cannot determine local data directory")
	}
	return filepath.Join(base, appID), nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
