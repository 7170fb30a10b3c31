// Package installer keeps a copy of the bundled CLI installed in the user's
// home so it can be run from a terminal, and refreshes it when the
// application ships a newer version.
package installer

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/loykin/sidekick/internal/env"
	"github.com/loykin/sidekick/internal/history"
	"github.com/loykin/sidekick/internal/metrics"
)

//go:embed install.sh
var installScript []byte

const (
	DefaultDir    = ".opencode/bin" // relative to $HOME
	DefaultBinary = "opencode"
	ScriptName    = "opencode-install.sh"
)

var (
	ErrUnsupportedPlatform = errors.New("CLI installation is only supported on macOS & Linux")
	ErrSidecarNotFound     = errors.New("Sidecar binary not found")
	ErrNoHome              = errors.New("Could not determine install path")
	ErrVersionCommand      = errors.New("Failed to get CLI version")
)

// VersionParseError is returned when `<install> --version` prints something
// that is not a semantic version.
type VersionParseError struct {
	Raw string
	Err error
}

func (e *VersionParseError) Error() string {
	return fmt.Sprintf("Failed to parse CLI version '%s': %v", e.Raw, e.Err)
}

func (e *VersionParseError) Unwrap() error { return e.Err }

// ScriptError is returned when the install script exits non-zero.
type ScriptError struct {
	ExitCode int
	Stderr   string
}

func (e *ScriptError) Error() string {
	return "Install script failed: " + strings.TrimSpace(e.Stderr)
}

// SyncResult tells which branch Sync took.
type SyncResult int

const (
	SyncSkippedDev SyncResult = iota
	SyncSkippedNotInstalled
	SyncUpToDate
	SyncUpdated
	SyncFailed
)

func (r SyncResult) String() string {
	switch r {
	case SyncSkippedDev:
		return "skipped_dev"
	case SyncSkippedNotInstalled:
		return "skipped_not_installed"
	case SyncUpToDate:
		return "up_to_date"
	case SyncUpdated:
		return "updated"
	case SyncFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Installer manages the installed copy of the sidecar.
type Installer struct {
	Sidecar    string // bundled sidecar binary to install from
	AppVersion string // version of the running application
	Dev        bool   // development build; Sync does nothing
	Home       string // defaults to $HOME
	Dir        string // install dir, relative to Home unless absolute
	Binary     string // installed file name
	TempDir    string // where the script is written; defaults to os.TempDir()
	Script     []byte // defaults to the embedded install.sh
	Logger     *slog.Logger
	History    history.Sink

	mu sync.Mutex
}

func (i *Installer) logger() *slog.Logger {
	if i.Logger == nil {
		return slog.Default()
	}
	return i.Logger
}

func (i *Installer) home() string {
	if i.Home != "" {
		return i.Home
	}
	return os.Getenv("HOME")
}

func (i *Installer) dir() (string, error) {
	d := i.Dir
	if d == "" {
		d = DefaultDir
	}
	if filepath.IsAbs(d) {
		return d, nil
	}
	h := i.home()
	if h == "" {
		return "", ErrNoHome
	}
	return filepath.Join(h, d), nil
}

// Path returns where the CLI is installed.
func (i *Installer) Path() (string, error) {
	d, err := i.dir()
	if err != nil {
		return "", err
	}
	b := i.Binary
	if b == "" {
		b = DefaultBinary
	}
	return filepath.Join(d, b), nil
}

// Installed reports whether a file exists at Path. Without a home directory
// nothing is considered installed.
func (i *Installer) Installed() bool {
	p, err := i.Path()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// InstalledVersion runs `<install> --version` and parses its trimmed output.
func (i *Installer) InstalledVersion(ctx context.Context) (*semver.Version, error) {
	p, err := i.Path()
	if err != nil {
		return nil, err
	}
	// #nosec G204
	out, err := exec.CommandContext(ctx, p, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVersionCommand, err)
	}
	raw := strings.TrimSpace(string(out))
	v, err := semver.StrictNewVersion(raw)
	if err != nil {
		return nil, &VersionParseError{Raw: raw, Err: err}
	}
	return v, nil
}

// NeedsUpdate reports whether installed is older than running.
func NeedsUpdate(installed, running *semver.Version) bool {
	return installed.LessThan(running)
}

// Install copies the sidecar to Path by running the install script and
// returns the install path.
func (i *Installer) Install(ctx context.Context) (string, error) {
	if !supported {
		return "", ErrUnsupportedPlatform
	}
	if st, err := os.Stat(i.Sidecar); i.Sidecar == "" || err != nil || st.IsDir() {
		return "", ErrSidecarNotFound
	}
	target, err := i.Path()
	if err != nil {
		return "", err
	}
	dir, _ := i.dir()

	i.mu.Lock()
	defer i.mu.Unlock()

	tmp := i.TempDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	script := filepath.Join(tmp, ScriptName)
	body := i.Script
	if body == nil {
		body = installScript
	}
	if err := os.WriteFile(script, body, 0o755); err != nil {
		return "", fmt.Errorf("Failed to write install script: %w", err)
	}
	defer func() { _ = os.Remove(script) }()
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(script, 0o755); err != nil {
		return "", fmt.Errorf("Failed to set script permissions: %w", err)
	}

	e := env.New()
	e.Set("HOME", i.home())
	e.Set("OPENCODE_INSTALL_DIR", dir)
	e.Set("OPENCODE_INSTALL_NAME", filepath.Base(target))

	var stdout, stderr bytes.Buffer
	// #nosec G204
	cmd := exec.CommandContext(ctx, script, "--binary", i.Sidecar)
	cmd.Env = e.Merge(nil)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return "", &ScriptError{ExitCode: ee.ExitCode(), Stderr: stderr.String()}
		}
		return "", fmt.Errorf("Failed to run install script: %w", err)
	}
	i.logger().Info("cli installed", "path", target, "output", strings.TrimSpace(stdout.String()))
	return target, nil
}

// Sync reinstalls the CLI when the installed copy is older than the running
// application. It never installs a CLI that is not already present.
func (i *Installer) Sync(ctx context.Context) (res SyncResult, err error) {
	log := i.logger()
	defer func() {
		metrics.IncCLISync(res.String())
		ev := history.Event{Type: history.EventCLISynced, Record: history.Record{Name: "cli", State: res.String()}}
		if err != nil {
			ev.Type = history.EventCLISyncFailed
			ev.Record.Error = err.Error()
		}
		history.Emit(ctx, i.History, log, ev)
	}()

	if i.Dev {
		log.Debug("development build, skipping cli sync")
		return SyncSkippedDev, nil
	}
	if !i.Installed() {
		log.Info("No CLI installation found, skipping sync")
		return SyncSkippedNotInstalled, nil
	}

	installed, err := i.InstalledVersion(ctx)
	if err != nil {
		return SyncFailed, err
	}
	running, err := semver.NewVersion(i.AppVersion)
	if err != nil {
		return SyncFailed, &VersionParseError{Raw: i.AppVersion, Err: err}
	}

	if !NeedsUpdate(installed, running) {
		log.Info("cli is up to date, skipping sync", "cli", installed.String(), "app", running.String())
		return SyncUpToDate, nil
	}
	log.Info("cli is older than app, syncing", "cli", installed.String(), "app", running.String())
	if _, err := i.Install(ctx); err != nil {
		return SyncFailed, err
	}
	log.Info("Synced installed CLI")
	return SyncUpdated, nil
}
