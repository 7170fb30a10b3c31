package process

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultSidecarName is the backend executable shipped next to the application binary.
const DefaultSidecarName = "opencode-cli"

// SidecarPath locates name next to the running executable, following symlinks
// so an application launched through a link still finds its bundled sidecar.
func SidecarPath(name string) (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate current binary: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return SiblingPath(exe, name), nil
}

// SiblingPath returns the path of name in exe's directory, adding ".exe" on Windows.
func SiblingPath(exe, name string) string {
	if name == "" {
		name = DefaultSidecarName
	}
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(exe), name)
}
