package port

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// DefaultEnv is the environment variable consulted for a runtime port override.
const DefaultEnv = "OPENCODE_PORT"

// BakedPort is a compile-time override, set with
// -ldflags "-X github.com/loykin/sidekick/internal/port.BakedPort=4096".
var BakedPort string

// ErrBind is returned when no ephemeral port could be allocated.
var ErrBind = errors.New("bind ephemeral port")

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Resolver picks the port the sidecar server listens on.
// Precedence: Baked, then Env looked up via Lookup, then an ephemeral port.
type Resolver struct {
	Baked  string
	Env    string
	Lookup LookupFunc
	Host   string // loopback host for ephemeral discovery
}

// NewResolver returns a Resolver reading BakedPort and the given env key from the OS.
func NewResolver(envKey string) *Resolver {
	if envKey == "" {
		envKey = DefaultEnv
	}
	return &Resolver{Baked: BakedPort, Env: envKey, Lookup: os.LookupEnv, Host: "127.0.0.1"}
}

// Resolve returns the first valid override or allocates an ephemeral port.
// Overrides that do not parse as a port are skipped.
func (r *Resolver) Resolve() (int, error) {
	if p, ok := parse(r.Baked); ok {
		return p, nil
	}
	if r.Env != "" && r.Lookup != nil {
		if v, ok := r.Lookup(r.Env); ok {
			if p, ok := parse(v); ok {
				return p, nil
			}
		}
	}
	host := r.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return Ephemeral(host)
}

// MustResolve is Resolve that panics on bind failure; there is no sensible fallback.
func (r *Resolver) MustResolve() int {
	p, err := r.Resolve()
	if err != nil {
		panic(err)
	}
	return p
}

// Ephemeral binds host:0, reads back the assigned port and releases the listener.
func Ephemeral(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBind, err)
	}
	defer func() { _ = ln.Close() }()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected address %s", ErrBind, ln.Addr())
	}
	return addr.Port, nil
}

func parse(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return 0, false
	}
	return p, true
}
