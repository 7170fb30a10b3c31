package process

import (
	"os"
	"strconv"
)

// DefaultShell is used when $SHELL is unset.
const DefaultShell = "/bin/sh"

// Strategy decides how the sidecar executable is invoked.
type Strategy interface {
	Command(sidecar string, port int) Command
	Name() string
}

// ServeArgs are the sidecar arguments for listening on port.
func ServeArgs(port int) []string {
	return []string{"serve", "--port=" + strconv.Itoa(port)}
}

// LoginShell runs the sidecar through an interactive login shell so it sees
// the PATH and environment the user configured in their shell profile.
type LoginShell struct {
	Shell string // empty means $SHELL, then DefaultShell
}

func (s LoginShell) Command(sidecar string, port int) Command {
	shell := s.Shell
	if shell == "" {
		shell = UserShell(os.LookupEnv)
	}
	script := `"` + sidecar + `" serve --port=` + strconv.Itoa(port)
	return Command{Path: shell, Args: []string{"-il", "-c", script}}
}

func (s LoginShell) Name() string { return "login-shell" }

// Direct executes the sidecar binary itself.
type Direct struct{}

func (Direct) Command(sidecar string, port int) Command {
	return Command{Path: sidecar, Args: ServeArgs(port)}
}

func (Direct) Name() string { return "direct" }

// UserShell returns $SHELL via lookup, or DefaultShell.
func UserShell(lookup func(string) (string, bool)) string {
	if lookup != nil {
		if v, ok := lookup("SHELL"); ok && v != "" {
			return v
		}
	}
	return DefaultShell
}
