package ratelimit

import (
	"callsplit/domain/core"
)

// Scope names one level of the composed limiter.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeCLI    Scope = "cli"
	ScopeTest   Scope = "test"
)

// scopeOrder is the fixed check order; the first blocking level is reported.
var scopeOrder = []Scope{ScopeGlobal, ScopeCLI, ScopeTest}

// MultiStatus is the combined verdict across levels.
type MultiStatus struct {
	Allowed bool `json:"allowed"`
	// BlockedBy names the first level that refused, empty when allowed.
	BlockedBy Scope            `json:"blocked_by,omitempty"`
	Levels    map[Scope]Status `json:"levels"`
}

// MultiLevel composes independent global, per-CLI and per-test buckets. A
// request passes only when every applicable level allows it.
type MultiLevel struct {
	levels map[Scope]*Limiter
}

// NewMultiLevel builds the composed limiter. Each scope gets its own bucket
// configuration.
func NewMultiLevel(global, cli, test Config, clock core.Clock) *MultiLevel {
	return &MultiLevel{
		levels: map[Scope]*Limiter{
			ScopeGlobal: New(global, clock),
			ScopeCLI:    New(cli, clock),
			ScopeTest:   New(test, clock),
		},
	}
}

// Allow checks all applicable levels in global -> cli -> test order. Scopes
// without a key are skipped. Tokens consumed at passing levels before a
// block are not returned; that matches the lazy bucket semantics.
func (m *MultiLevel) Allow(keys map[Scope]string) MultiStatus {
	out := MultiStatus{Allowed: true, Levels: make(map[Scope]Status)}
	for _, scope := range scopeOrder {
		key, ok := keys[scope]
		if !ok || key == "" {
			continue
		}
		st := m.levels[scope].Allow(key)
		out.Levels[scope] = st
		if !st.Allowed {
			out.Allowed = false
			out.BlockedBy = scope
			return out
		}
	}
	return out
}

// Level exposes one scope's limiter, e.g. to downshift a saturated CLI.
func (m *MultiLevel) Level(scope Scope) *Limiter {
	return m.levels[scope]
}

// ApplyDownshift slows the per-CLI bucket for an origin line.
func (m *MultiLevel) ApplyDownshift(originLine string) {
	m.levels[ScopeCLI].ApplyDownshift(originLine)
}

// ResetRate restores the per-CLI bucket for an origin line.
func (m *MultiLevel) ResetRate(originLine string) {
	m.levels[ScopeCLI].ResetRate(originLine)
}
