// Package blocklist holds the in-memory registry of blocked addresses and
// CIDR ranges consulted on every request.
package blocklist

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/Wikid82/cerberus/internal/models"
)

// ErrInvalidTarget is returned for entries whose address or range does not parse.
var ErrInvalidTarget = errors.New("invalid IP address or CIDR")

// Registry answers IsBlocked for exact addresses and CIDR ranges.
// Expiry is evaluated on every lookup; SweepExpired only reclaims memory.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	exact  map[netip.Addr]models.BlockedIP
	ranges map[netip.Prefix]models.BlockedIP
	now    func() time.Time

	// gen counts InsertOrExtend calls; inserted holds the gen of each
	// target's last insert.
	gen      uint64
	inserted map[entryKey]uint64
}

// entryKey identifies an entry; exactly one field is valid.
type entryKey struct {
	addr   netip.Addr
	prefix netip.Prefix
}

// New returns an empty registry using the wall clock.
func New() *Registry {
	return &Registry{
		exact:    make(map[netip.Addr]models.BlockedIP),
		ranges:   make(map[netip.Prefix]models.BlockedIP),
		now:      time.Now,
		inserted: make(map[entryKey]uint64),
	}
}

// Mark returns the current insert generation. Pass it to ReplaceSince when
// the replacement set is loaded after this call.
func (r *Registry) Mark() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// ParseTarget parses a single address or a CIDR range. Exactly one of the
// returned values is valid.
func ParseTarget(s string) (netip.Addr, netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Addr{}, netip.Prefix{}, fmt.Errorf("%w: %s", ErrInvalidTarget, s)
		}
		if p.Addr().Is4In6() {
			bits := p.Bits() - 96
			if bits < 0 {
				return netip.Addr{}, netip.Prefix{}, fmt.Errorf("%w: %s", ErrInvalidTarget, s)
			}
			p = netip.PrefixFrom(p.Addr().Unmap(), bits)
		}
		return netip.Addr{}, p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, netip.Prefix{}, fmt.Errorf("%w: %s", ErrInvalidTarget, s)
	}
	return a.Unmap(), netip.Prefix{}, nil
}

// IsBlocked reports whether ip matches an active exact entry or falls inside
// an active range. Unparseable input is never blocked.
func (r *Registry) IsBlocked(ip string) bool {
	_, ok := r.Lookup(ip)
	return ok
}

// Lookup returns the entry blocking ip, if any. Exact entries win over ranges.
func (r *Registry) Lookup(ip string) (models.BlockedIP, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return models.BlockedIP{}, false
	}
	addr = addr.Unmap()

	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()

	if entry, ok := r.exact[addr]; ok && entry.IsActive(now) {
		return entry, true
	}
	for prefix, entry := range r.ranges {
		if prefix.Contains(addr) && entry.IsActive(now) {
			return entry, true
		}
	}
	return models.BlockedIP{}, false
}

// InsertOrExtend adds an entry, or merges it into an existing active entry for
// the same target so repeated auto-blocks never produce duplicates. The merged
// entry keeps the later expiry; permanent wins. created reports whether a new
// entry was stored.
func (r *Registry) InsertOrExtend(entry models.BlockedIP) (stored models.BlockedIP, created bool, err error) {
	addr, prefix, err := ParseTarget(entry.Target())
	if err != nil {
		return models.BlockedIP{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	var existing models.BlockedIP
	var found bool
	if prefix.IsValid() {
		existing, found = r.ranges[prefix]
	} else {
		existing, found = r.exact[addr]
	}

	if found && existing.IsActive(now) {
		entry = Merge(existing, entry)
	} else {
		created = true
	}

	if prefix.IsValid() {
		r.ranges[prefix] = entry
	} else {
		r.exact[addr] = entry
	}
	r.gen++
	r.inserted[entryKey{addr, prefix}] = r.gen
	return entry, created, nil
}

// Merge folds an incoming block into an active existing one: identity and
// creation time of the existing entry are kept, the block lasts as long as
// the longer of the two.
func Merge(existing, incoming models.BlockedIP) models.BlockedIP {
	merged := existing
	if incoming.Reason != "" {
		merged.Reason = incoming.Reason
	}
	switch {
	case existing.IsPermanent || incoming.IsPermanent:
		merged.IsPermanent = true
		merged.ExpiresAt = nil
	case existing.ExpiresAt == nil:
		// no expiry already lasts until removal
	case incoming.ExpiresAt == nil:
		merged.ExpiresAt = nil
	case incoming.ExpiresAt.After(*existing.ExpiresAt):
		exp := *incoming.ExpiresAt
		merged.ExpiresAt = &exp
	}
	return merged
}

// Remove deletes the entry for an address or range. It reports whether an
// entry existed.
func (r *Registry) Remove(target string) bool {
	addr, prefix, err := ParseTarget(target)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inserted, entryKey{addr, prefix})
	if prefix.IsValid() {
		_, ok := r.ranges[prefix]
		delete(r.ranges, prefix)
		return ok
	}
	_, ok := r.exact[addr]
	delete(r.exact, addr)
	return ok
}

// Replace swaps the registry content for a freshly loaded set. Entries that do
// not parse are skipped and counted.
func (r *Registry) Replace(entries []models.BlockedIP) (skipped int) {
	return r.ReplaceSince(entries, math.MaxUint64)
}

// ReplaceSince is Replace for a set loaded after Mark returned mark. Active
// entries inserted after mark may be missing from that set, so they are
// merged into it instead of being dropped.
func (r *Registry) ReplaceSince(entries []models.BlockedIP, mark uint64) (skipped int) {
	exact := make(map[netip.Addr]models.BlockedIP, len(entries))
	ranges := make(map[netip.Prefix]models.BlockedIP)

	r.mu.RLock()
	now := r.now()
	r.mu.RUnlock()

	for _, e := range entries {
		addr, prefix, err := ParseTarget(e.Target())
		if err != nil {
			skipped++
			continue
		}
		if prefix.IsValid() {
			if prev, ok := ranges[prefix]; ok && prev.IsActive(now) {
				e = Merge(prev, e)
			}
			ranges[prefix] = e
			continue
		}
		if prev, ok := exact[addr]; ok && prev.IsActive(now) {
			e = Merge(prev, e)
		}
		exact[addr] = e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, gen := range r.inserted {
		if gen <= mark {
			delete(r.inserted, k)
			continue
		}
		if !k.prefix.IsValid() {
			if cur, ok := r.exact[k.addr]; ok && cur.IsActive(now) {
				if loaded, ok := exact[k.addr]; ok && loaded.IsActive(now) {
					cur = Merge(loaded, cur)
				}
				exact[k.addr] = cur
			}
			continue
		}
		if cur, ok := r.ranges[k.prefix]; ok && cur.IsActive(now) {
			if loaded, ok := ranges[k.prefix]; ok && loaded.IsActive(now) {
				cur = Merge(loaded, cur)
			}
			ranges[k.prefix] = cur
		}
	}
	r.exact = exact
	r.ranges = ranges
	return skipped
}

// SweepExpired removes non-permanent entries whose expiry has passed and
// returns how many were removed.
func (r *Registry) SweepExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for addr, e := range r.exact {
		if e.IsExpired(now) {
			delete(r.exact, addr)
			removed++
		}
	}
	for prefix, e := range r.ranges {
		if e.IsExpired(now) {
			delete(r.ranges, prefix)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exact) + len(r.ranges)
}

// Entries returns a copy of all stored entries.
func (r *Registry) Entries() []models.BlockedIP {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.BlockedIP, 0, len(r.exact)+len(r.ranges))
	for _, e := range r.exact {
		out = append(out, e)
	}
	for _, e := range r.ranges {
		out = append(out, e)
	}
	return out
}
