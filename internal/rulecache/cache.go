// Package rulecache keeps the engine's in-memory view of the rule store and
// refreshes it from a models.RuleSource.
package rulecache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Wikid82/cerberus/internal/blocklist"
	"github.com/Wikid82/cerberus/internal/geoblock"
	"github.com/Wikid82/cerberus/internal/logger"
	"github.com/Wikid82/cerberus/internal/metrics"
	"github.com/Wikid82/cerberus/internal/models"
)

// Cache publishes rule snapshots atomically. Readers call Snapshot and never
// block on a refresh; refreshes are serialized so two loads never race to
// publish.
type Cache struct {
	source models.RuleSource
	blocks *blocklist.Registry
	geo    *geoblock.Registry

	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes Refresh
	now     func() time.Time

	errMu   sync.RWMutex
	onError func(error)
}

// New returns a cache that loads from source and also repopulates the block
// and geo registries on every refresh. Either registry may be nil.
func New(source models.RuleSource, blocks *blocklist.Registry, geo *geoblock.Registry) *Cache {
	return &Cache{source: source, blocks: blocks, geo: geo, now: time.Now}
}

// OnRefreshError registers a callback invoked after a failed refresh.
func (c *Cache) OnRefreshError(fn func(error)) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.onError = fn
}

// Snapshot returns the last published snapshot, or nil if no refresh has
// succeeded yet.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Publish installs a snapshot directly, bypassing the source.
func (c *Cache) Publish(snap *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current.Store(snap)
	metrics.SetActiveSignatureRules(len(snap.Signatures))
}

// Refresh loads all four rule sets concurrently and publishes them only if
// every load succeeded. On failure the previous snapshot stays in place.
// When Refresh returns nil the new rules are visible to every reader.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		signatures []models.SignatureRule
		threats    []models.ThreatRule
		blocked    []models.BlockedIP
		geoRules   []models.GeoBlockRule
	)

	// blocks inserted while the loads run may be missing from the result
	var mark uint64
	if c.blocks != nil {
		mark = c.blocks.Mark()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		signatures, err = c.source.LoadEnabledSignatureRules(gctx)
		return wrap("signature rules", err)
	})
	g.Go(func() (err error) {
		threats, err = c.source.LoadEnabledThreatRules(gctx)
		return wrap("threat rules", err)
	})
	g.Go(func() (err error) {
		blocked, err = c.source.LoadBlockedIPs(gctx)
		return wrap("blocked ips", err)
	})
	g.Go(func() (err error) {
		geoRules, err = c.source.LoadGeoBlockRules(gctx)
		return wrap("geo rules", err)
	})

	if err := g.Wait(); err != nil {
		metrics.IncRuleRefresh("error")
		logger.Component("rulecache").WithError(err).Error("Rule refresh failed, keeping last snapshot")
		c.errMu.RLock()
		hook := c.onError
		c.errMu.RUnlock()
		if hook != nil {
			hook(err)
		}
		return err
	}

	snap, compileErrs := NewSnapshot(signatures, threats, c.now())
	for _, err := range compileErrs {
		logger.Component("rulecache").WithError(err).Warn("Skipping uncompilable signature rule")
	}
	c.current.Store(snap)

	if c.blocks != nil {
		if skipped := c.blocks.ReplaceSince(blocked, mark); skipped > 0 {
			logger.Component("rulecache").WithField("skipped", skipped).Warn("Skipped unparseable blocked IP entries")
		}
		metrics.SetBlockedEntries(c.blocks.Len())
	}
	if c.geo != nil {
		c.geo.Replace(geoRules)
	}

	metrics.IncRuleRefresh("ok")
	metrics.SetActiveSignatureRules(len(snap.Signatures))
	logger.Component("rulecache").WithFields(map[string]interface{}{
		"signature_rules": len(snap.Signatures),
		"threat_rules":    len(snap.ThreatRules),
		"blocked_entries": len(blocked),
		"geo_rules":       len(geoRules),
	}).Debug("Rule cache refreshed")
	return nil
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("load %s: %w", what, err)
	}
	return nil
}
