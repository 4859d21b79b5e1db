// Package threat counts repeated suspicious behaviour per source over sliding
// time windows.
package threat

import (
	"strings"
	"sync"
	"time"

	"github.com/Wikid82/cerberus/internal/models"
)

const (
	// maxEventsPerKey bounds the timestamps kept for one rule and identity.
	maxEventsPerKey = 4096
	// defaultWindow applies to rules stored without a window.
	defaultWindow = 5 * time.Minute
	// countryTTL is how long the last seen login country of a user is kept.
	countryTTL = 7 * 24 * time.Hour
)

// Observation is the outcome of recording one event against a rule.
type Observation struct {
	Triggered       bool
	ShouldAutoBlock bool
	Count           int
}

type windowKey struct {
	rule     string
	identity string
}

type window struct {
	times  []time.Time
	length time.Duration
}

type countrySeen struct {
	country string
	at      time.Time
}

// Detector keeps one sliding window per (rule, identity). It is safe for
// concurrent use.
type Detector struct {
	mu        sync.Mutex
	windows   map[windowKey]*window
	countries map[string]countrySeen
	now       func() time.Time
}

// New returns an empty detector using the wall clock.
func New() *Detector {
	return &Detector{
		windows:   make(map[windowKey]*window),
		countries: make(map[string]countrySeen),
		now:       time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (d *Detector) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Observe records one event for identity under rule and reports whether the
// rule's threshold is reached within its window. Entries are pruned against
// the detector clock, never against ts, so out-of-order timestamps cannot
// shrink or stretch the window. A zero ts means now. Disabled rules record
// nothing.
func (d *Detector) Observe(rule models.ThreatRule, identity string, ts time.Time) Observation {
	if !rule.Enabled || identity == "" {
		return Observation{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if ts.IsZero() {
		ts = now
	}

	k := windowKey{rule: ruleKey(rule), identity: identity}
	w, ok := d.windows[k]
	if !ok {
		w = &window{}
		d.windows[k] = w
	}
	w.length = windowOf(rule)
	w.times = append(w.times, ts)
	w.prune(now)
	if len(w.times) > maxEventsPerKey {
		w.times = append([]time.Time(nil), w.times[len(w.times)-maxEventsPerKey:]...)
	}

	threshold := rule.Threshold
	if threshold <= 0 {
		threshold = 1
	}
	obs := Observation{Count: len(w.times)}
	obs.Triggered = obs.Count >= threshold
	obs.ShouldAutoBlock = obs.Triggered &&
		strings.EqualFold(rule.Action, models.ActionBlock) &&
		rule.AutoBlockDuration() > 0
	return obs
}

// Count returns the events currently inside the window without recording one.
func (d *Detector) Count(rule models.ThreatRule, identity string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.windows[windowKey{rule: ruleKey(rule), identity: identity}]
	if !ok {
		return 0
	}
	w.length = windowOf(rule)
	w.prune(d.now())
	return len(w.times)
}

// Reset clears the window of identity under rule, typically after an
// auto-block so the next window starts empty.
func (d *Detector) Reset(rule models.ThreatRule, identity string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.windows, windowKey{rule: ruleKey(rule), identity: identity})
}

// CountryChange records the country of a successful login by userID and
// returns the previously recorded country and the time since it was seen.
// changed is false for the first login and when the country is the same.
func (d *Detector) CountryChange(userID, country string, ts time.Time) (previous string, elapsed time.Duration, changed bool) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if userID == "" || country == "" {
		return "", 0, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts.IsZero() {
		ts = d.now()
	}
	prev, ok := d.countries[userID]
	d.countries[userID] = countrySeen{country: country, at: ts}
	if !ok || prev.country == country {
		return prev.country, 0, false
	}
	elapsed = ts.Sub(prev.at)
	if elapsed < 0 {
		elapsed = 0
	}
	return prev.country, elapsed, true
}

// Prune drops expired timestamps and forgets idle identities. It returns the
// number of windows removed.
func (d *Detector) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for k, w := range d.windows {
		w.prune(now)
		if len(w.times) == 0 {
			delete(d.windows, k)
			removed++
		}
	}
	for user, seen := range d.countries {
		if now.Sub(seen.at) > countryTTL {
			delete(d.countries, user)
		}
	}
	return removed
}

// Len returns the number of tracked windows.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.length)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept
}

func windowOf(rule models.ThreatRule) time.Duration {
	if d := rule.Window(); d > 0 {
		return d
	}
	return defaultWindow
}

func ruleKey(rule models.ThreatRule) string {
	if rule.ID != "" {
		return rule.ID
	}
	return rule.Name
}
