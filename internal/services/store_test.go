package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/cerberus/internal/blocklist"
	"github.com/Wikid82/cerberus/internal/geoblock"
	"github.com/Wikid82/cerberus/internal/models"
	"github.com/Wikid82/cerberus/internal/rulecache"
)

func TestStore_FeedsRuleCache(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	blocks := blocklist.New()
	geo := geoblock.New(geoblock.DenyList)
	cache := rulecache.New(store, blocks, geo)
	store.SetInvalidator(cache.Refresh)

	require.NoError(t, store.Signatures.Create(ctx, validSignature("sqli")))
	disabled := validSignature("disabled")
	disabled.Enabled = false
	require.NoError(t, store.Signatures.Create(ctx, disabled))
	require.NoError(t, store.Threats.Create(ctx, &models.ThreatRule{Name: "bf", RuleType: models.RuleTypeBruteForce, Severity: "HIGH", Enabled: true}))
	_, err := store.Blocks.Block(ctx, BlockRequest{Target: "203.0.113.0/24", Permanent: true})
	require.NoError(t, err)
	require.NoError(t, store.Geo.Create(ctx, &models.GeoBlockRule{CountryCode: "KP", Enabled: true}))

	// every mutation refreshed the cache before returning
	snap := cache.Snapshot()
	require.NotNil(t, snap)
	require.Len(t, snap.Signatures, 1)
	assert.Equal(t, "sqli", snap.Signatures[0].Rule.Name)
	assert.Len(t, snap.ThreatRules, 1)
	assert.True(t, blocks.IsBlocked("203.0.113.50"))
	assert.True(t, geo.IsCountryBlocked("KP"))

	require.NoError(t, store.Blocks.Unblock(ctx, "203.0.113.0/24"))
	assert.False(t, blocks.IsBlocked("203.0.113.50"))
}

func TestStore_LoadBlockedIPsSkipsExpired(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	_, err := store.InsertOrExtendBlock(ctx, models.BlockedIP{IPAddress: "198.51.100.1", ExpiresAt: &past})
	require.NoError(t, err)
	_, err = store.Blocks.Block(ctx, BlockRequest{Target: "198.51.100.2"})
	require.NoError(t, err)

	blocked, err := store.LoadBlockedIPs(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "198.51.100.2", blocked[0].IPAddress)
}

func TestStore_RecordEvent(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.RecordEvent(ctx, &models.ThreatEvent{EventType: models.EventAutoBlock, Severity: models.SeverityHigh, Description: "auto"}))
	events, err := store.Events.List(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
