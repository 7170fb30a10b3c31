//go:build !windows

package process

// DefaultStrategy wraps the sidecar in the user's login shell.
func DefaultStrategy() Strategy { return LoginShell{} }
