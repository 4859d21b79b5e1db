package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/cerberus/internal/models"
)

func TestBlockService_BlockCanonicalizes(t *testing.T) {
	svc := NewBlockService(setupTestDB(t))
	ctx := context.Background()

	single, err := svc.Block(ctx, BlockRequest{Target: " 203.0.113.9 ", Reason: "scanner", Permanent: true})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", single.IPAddress)
	assert.Empty(t, single.CIDRRange)
	assert.Equal(t, "admin", single.BlockedBy)

	rng, err := svc.Block(ctx, BlockRequest{Target: "192.0.2.77/24", Duration: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.0/24", rng.CIDRRange)
	require.NotNil(t, rng.ExpiresAt)

	mapped, err := svc.Block(ctx, BlockRequest{Target: "::ffff:198.51.100.1"})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", mapped.IPAddress)
	assert.Nil(t, mapped.ExpiresAt)
}

func TestBlockService_Errors(t *testing.T) {
	svc := NewBlockService(setupTestDB(t))
	ctx := context.Background()

	_, err := svc.Block(ctx, BlockRequest{Target: "not-an-ip"})
	assert.ErrorIs(t, err, ErrInvalidIPAddress)
	_, err = svc.Block(ctx, BlockRequest{Target: "10.0.0.0/33"})
	assert.ErrorIs(t, err, ErrInvalidIPAddress)

	_, err = svc.Block(ctx, BlockRequest{Target: "203.0.113.9", Permanent: true})
	require.NoError(t, err)
	_, err = svc.Block(ctx, BlockRequest{Target: "203.0.113.9", Permanent: true})
	assert.ErrorIs(t, err, ErrAlreadyBlocked)

	assert.ErrorIs(t, svc.Unblock(ctx, "198.51.100.200"), ErrBlockNotFound)
	assert.ErrorIs(t, svc.Unblock(ctx, "bogus"), ErrInvalidIPAddress)
}

func TestBlockService_ExpiredBlockCanBeRenewed(t *testing.T) {
	svc := NewBlockService(setupTestDB(t))
	ctx := context.Background()
	start := time.Now().UTC()
	svc.now = func() time.Time { return start }

	_, err := svc.Block(ctx, BlockRequest{Target: "203.0.113.9", Duration: time.Minute})
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = svc.Block(ctx, BlockRequest{Target: "203.0.113.9", Duration: time.Minute})
	assert.NoError(t, err)
}

func TestBlockService_InsertOrExtendBlock(t *testing.T) {
	svc := NewBlockService(setupTestDB(t))
	ctx := context.Background()
	soon := time.Now().Add(time.Hour)
	later := time.Now().Add(24 * time.Hour)

	first, err := svc.InsertOrExtendBlock(ctx, models.BlockedIP{IPAddress: "203.0.113.7", Reason: "brute force", ExpiresAt: &soon})
	require.NoError(t, err)
	assert.Equal(t, models.BlockedBySystem, first.BlockedBy)

	second, err := svc.InsertOrExtendBlock(ctx, models.BlockedIP{IPAddress: "203.0.113.7", Reason: "brute force again", ExpiresAt: &later})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.ExpiresAt)
	assert.WithinDuration(t, later, *second.ExpiresAt, time.Second)

	// a shorter block never shortens an existing one
	third, err := svc.InsertOrExtendBlock(ctx, models.BlockedIP{IPAddress: "203.0.113.7", ExpiresAt: &soon})
	require.NoError(t, err)
	assert.WithinDuration(t, later, *third.ExpiresAt, time.Second)

	blocks, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}

func TestBlockService_ListCleanupAndUnblock(t *testing.T) {
	svc := NewBlockService(setupTestDB(t))
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	_, err := svc.InsertOrExtendBlock(ctx, models.BlockedIP{IPAddress: "198.51.100.1", ExpiresAt: &past})
	require.NoError(t, err)
	_, err = svc.Block(ctx, BlockRequest{Target: "198.51.100.2", Permanent: true})
	require.NoError(t, err)
	_, err = svc.Block(ctx, BlockRequest{Target: "198.51.100.0/28", Duration: time.Hour})
	require.NoError(t, err)

	all, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	n, err := svc.CountActive(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	removed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	require.NoError(t, svc.Unblock(ctx, "198.51.100.0/28"))
	all, err = svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsPermanent)
}

func TestBlockService_RangeBlocksMatchOnStoredRange(t *testing.T) {
	svc := NewBlockService(setupTestDB(t))
	ctx := context.Background()

	first, err := svc.Block(ctx, BlockRequest{Target: "10.20.0.0/16", Reason: "botnet", Permanent: true})
	require.NoError(t, err)
	assert.Equal(t, "10.20.0.0/16", first.CIDRRange)

	_, err = svc.Block(ctx, BlockRequest{Target: "10.20.99.1/16", Permanent: true})
	assert.ErrorIs(t, err, ErrAlreadyBlocked)

	// a single address inside the range is a separate entry
	_, err = svc.Block(ctx, BlockRequest{Target: "10.20.0.5", Duration: time.Hour})
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	merged, err := svc.InsertOrExtendBlock(ctx, models.BlockedIP{CIDRRange: "10.20.0.0/16", Reason: "again", ExpiresAt: &later})
	require.NoError(t, err)
	assert.Equal(t, first.ID, merged.ID)
	assert.True(t, merged.IsPermanent)

	require.NoError(t, svc.Unblock(ctx, "10.20.0.0/16"))
	assert.ErrorIs(t, svc.Unblock(ctx, "10.20.0.0/16"), ErrBlockNotFound)

	remaining, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "10.20.0.5", remaining[0].IPAddress)
}
