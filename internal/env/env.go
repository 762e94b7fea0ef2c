package env

import (
	"os"
	"sort"
	"strings"
)

// Env composes the environment for launched services.
// Base is the OS environment, Global holds manager-wide overrides, and
// per-service overrides are applied last.
type Env struct {
	global map[string]string
	base   map[string]string // cached OS environment
}

func New() *Env {
	return &Env{global: make(map[string]string)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.base = base
}

// Set sets a global override K=V.
func (e *Env) Set(k, v string) {
	if e.global == nil {
		e.global = make(map[string]string)
	}
	e.global[k] = v
}

// Unset removes a global override.
func (e *Env) Unset(k string) {
	if e.global != nil {
		delete(e.global, k)
	}
}

// Merge composes the final environment in "K=V" form, applying in order:
// OS base, then global overrides, then the per-service map. ${VAR}
// references in values are expanded against the composed map (single pass,
// no recursion). The result is sorted for determinism.
func (e *Env) Merge(perService map[string]string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(map[string]string, len(e.base)+len(e.global)+len(perService))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	for k, v := range perService {
		m[k] = v
	}
	lookup := func(k string) string { return m[k] }
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+os.Expand(v, lookup))
	}
	sort.Strings(out)
	return out
}
