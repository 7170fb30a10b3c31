//go:build windows

package process

// DefaultStrategy runs the sidecar binary directly; there is no login shell to inherit from.
func DefaultStrategy() Strategy { return Direct{} }
