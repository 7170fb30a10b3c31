package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes a child process environment: an OS base, then fixed
// overrides in Var, then per-launch pairs passed to Merge.
type Env struct {
	Var  Var // overrides applied on top of the base
	base Var // nil until FromOS or WithBase is called
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS snapshots the current process environment as the base.
func (e *Env) FromOS() {
	e.base = Parse(os.Environ())
}

// WithBase replaces the base with the given "K=V" pairs. Used by tests to
// keep results independent of the host environment.
func (e *Env) WithBase(kvs []string) *Env {
	e.base = Parse(kvs)
	return e
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll applies "K=V" pairs as overrides; malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for k, v := range Parse(kvs) {
		e.Set(k, v)
	}
}

// Unset removes an override.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge returns base + overrides + extra as a sorted "K=V" slice.
// ${VAR} references are expanded once against the composed map.
func (e *Env) Merge(extra []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range Parse(extra) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Parse splits "K=V" pairs into a map, dropping entries with an empty key.
func Parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
