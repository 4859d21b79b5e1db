// Package geoblock decides whether traffic from a country is blocked.
package geoblock

import (
	"strings"
	"sync"

	"github.com/Wikid82/cerberus/internal/models"
)

// ListMode selects how ALLOW and DENY rules combine.
type ListMode string

const (
	// DenyList blocks only countries with an enabled DENY rule. ALLOW rules
	// are stored but have no effect.
	DenyList ListMode = "deny"
	// AllowList blocks every country without an enabled ALLOW rule. DENY
	// rules still block.
	AllowList ListMode = "allow"
)

// Registry holds one authoritative rule per country code.
type Registry struct {
	mu    sync.RWMutex
	mode  ListMode
	rules map[string]models.GeoBlockRule
}

// New returns an empty registry in the given mode. Unknown modes fall back to DenyList.
func New(mode ListMode) *Registry {
	if mode != AllowList {
		mode = DenyList
	}
	return &Registry{mode: mode, rules: make(map[string]models.GeoBlockRule)}
}

// NormalizeCountryCode upper-cases and trims an ISO country code.
func NormalizeCountryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Mode returns the active list mode.
func (r *Registry) Mode() ListMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// IsCountryBlocked reports whether requests from code must be rejected.
// An empty code (country unknown) is never blocked.
func (r *Registry) IsCountryBlocked(code string) bool {
	code = NormalizeCountryCode(code)
	if code == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[code]
	active := ok && rule.Enabled
	if active && rule.BlockType == models.GeoDeny {
		return true
	}
	if r.mode == AllowList {
		return !(active && rule.BlockType == models.GeoAllow)
	}
	return false
}

// Replace swaps in a freshly loaded rule set. When several rules exist for one
// code, enabled beats disabled and DENY beats ALLOW.
func (r *Registry) Replace(rules []models.GeoBlockRule) {
	next := make(map[string]models.GeoBlockRule, len(rules))
	for _, rule := range rules {
		rule.CountryCode = NormalizeCountryCode(rule.CountryCode)
		rule.BlockType = strings.ToUpper(rule.BlockType)
		if rule.CountryCode == "" {
			continue
		}
		if prev, ok := next[rule.CountryCode]; ok && outranks(prev, rule) {
			continue
		}
		next[rule.CountryCode] = rule
	}

	r.mu.Lock()
	r.rules = next
	r.mu.Unlock()
}

// Len returns the number of stored rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

func outranks(a, b models.GeoBlockRule) bool {
	if a.Enabled != b.Enabled {
		return a.Enabled
	}
	return a.BlockType == models.GeoDeny && b.BlockType != models.GeoDeny
}
