package blocklist

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/cerberus/internal/models"
)

func ptrTime(t time.Time) *time.Time { return &t }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestRegistry_ExactMatch(t *testing.T) {
	r := New()
	_, _, err := r.InsertOrExtend(models.BlockedIP{IPAddress: "203.0.113.7", Reason: "manual", IsPermanent: true})
	require.NoError(t, err)

	assert.True(t, r.IsBlocked("203.0.113.7"))
	assert.True(t, r.IsBlocked("::ffff:203.0.113.7"), "IPv4-mapped form must match")
	assert.False(t, r.IsBlocked("203.0.113.8"))
	assert.False(t, r.IsBlocked("not-an-ip"))
	assert.False(t, r.IsBlocked(""))
}

func TestRegistry_CIDRBoundary(t *testing.T) {
	r := New()
	_, _, err := r.InsertOrExtend(models.BlockedIP{CIDRRange: "192.168.1.0/24", Reason: "bad subnet", IsPermanent: true})
	require.NoError(t, err)

	assert.True(t, r.IsBlocked("192.168.1.0"))
	assert.True(t, r.IsBlocked("192.168.1.50"))
	assert.True(t, r.IsBlocked("192.168.1.255"))
	assert.False(t, r.IsBlocked("192.168.2.0"), "one address past the range")
	assert.False(t, r.IsBlocked("192.168.0.255"), "one address before the range")
}

func TestRegistry_CIDRInIPAddressField(t *testing.T) {
	r := New()
	_, _, err := r.InsertOrExtend(models.BlockedIP{IPAddress: "2001:db8::/32", IsPermanent: true})
	require.NoError(t, err)

	assert.True(t, r.IsBlocked("2001:db8::1"))
	assert.False(t, r.IsBlocked("2001:db9::1"))
}

func TestRegistry_Expiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New()
	r.SetClock(fixedClock(now))

	_, _, err := r.InsertOrExtend(models.BlockedIP{IPAddress: "198.51.100.1", ExpiresAt: ptrTime(now.Add(-time.Second))})
	require.NoError(t, err)
	_, _, err = r.InsertOrExtend(models.BlockedIP{CIDRRange: "198.51.100.128/25", ExpiresAt: ptrTime(now.Add(-time.Hour))})
	require.NoError(t, err)
	_, _, err = r.InsertOrExtend(models.BlockedIP{IPAddress: "198.51.100.2", ExpiresAt: ptrTime(now.Add(time.Hour))})
	require.NoError(t, err)
	_, _, err = r.InsertOrExtend(models.BlockedIP{IPAddress: "198.51.100.3", IsPermanent: true, ExpiresAt: ptrTime(now.Add(-time.Hour))})
	require.NoError(t, err)

	assert.False(t, r.IsBlocked("198.51.100.1"), "expired exact entry must not block before any sweep")
	assert.False(t, r.IsBlocked("198.51.100.200"), "expired range must not block before any sweep")
	assert.True(t, r.IsBlocked("198.51.100.2"))
	assert.True(t, r.IsBlocked("198.51.100.3"), "permanent entries ignore expiry")

	assert.Equal(t, 2, r.SweepExpired())
	assert.Equal(t, 2, r.Len())
	assert.True(t, r.IsBlocked("198.51.100.3"))
}

func TestRegistry_InsertOrExtendIsIdempotent(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New()
	r.SetClock(fixedClock(now))

	first, created, err := r.InsertOrExtend(models.BlockedIP{ID: "a", IPAddress: "10.1.1.1", ExpiresAt: ptrTime(now.Add(time.Hour))})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := r.InsertOrExtend(models.BlockedIP{ID: "b", IPAddress: "10.1.1.1", ExpiresAt: ptrTime(now.Add(3 * time.Hour))})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID, "existing identity is kept")
	assert.Equal(t, now.Add(3*time.Hour), *second.ExpiresAt)

	third, created, err := r.InsertOrExtend(models.BlockedIP{IPAddress: "10.1.1.1", ExpiresAt: ptrTime(now.Add(time.Minute))})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, now.Add(3*time.Hour), *third.ExpiresAt, "shorter block never shortens an active one")

	assert.Equal(t, 1, r.Len())
}

func TestRegistry_InsertReplacesExpiredEntry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New()
	r.SetClock(fixedClock(now))

	_, _, err := r.InsertOrExtend(models.BlockedIP{ID: "old", IPAddress: "10.1.1.1", ExpiresAt: ptrTime(now.Add(-time.Hour))})
	require.NoError(t, err)
	stored, created, err := r.InsertOrExtend(models.BlockedIP{ID: "new", IPAddress: "10.1.1.1", ExpiresAt: ptrTime(now.Add(time.Hour))})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "new", stored.ID)
}

func TestRegistry_InvalidTarget(t *testing.T) {
	r := New()
	_, _, err := r.InsertOrExtend(models.BlockedIP{IPAddress: "999.1.1.1"})
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, _, err = r.InsertOrExtend(models.BlockedIP{CIDRRange: "10.0.0.0/99"})
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestRegistry_ReplaceAndRemove(t *testing.T) {
	r := New()
	_, _, _ = r.InsertOrExtend(models.BlockedIP{IPAddress: "10.9.9.9", IsPermanent: true})

	skipped := r.Replace([]models.BlockedIP{
		{IPAddress: "10.0.0.1", IsPermanent: true},
		{CIDRRange: "172.16.0.0/12", IsPermanent: true},
		{IPAddress: "garbage"},
	})
	assert.Equal(t, 1, skipped)
	assert.False(t, r.IsBlocked("10.9.9.9"), "replace drops entries absent from the new set")
	assert.True(t, r.IsBlocked("10.0.0.1"))
	assert.True(t, r.IsBlocked("172.20.1.1"))

	assert.True(t, r.Remove("172.16.0.0/12"))
	assert.False(t, r.IsBlocked("172.20.1.1"))
	assert.False(t, r.Remove("172.16.0.0/12"))
	assert.Len(t, r.Entries(), 1)
}

func TestRegistry_ReplaceSinceKeepsLaterInserts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New()
	r.SetClock(fixedClock(now))
	_, _, _ = r.InsertOrExtend(models.BlockedIP{IPAddress: "10.9.9.9", IsPermanent: true})

	mark := r.Mark()
	_, _, err := r.InsertOrExtend(models.BlockedIP{IPAddress: "10.1.1.1", ExpiresAt: ptrTime(now.Add(2 * time.Hour))})
	require.NoError(t, err)
	_, _, err = r.InsertOrExtend(models.BlockedIP{CIDRRange: "192.0.2.0/24", ExpiresAt: ptrTime(now.Add(time.Hour))})
	require.NoError(t, err)
	_, _, err = r.InsertOrExtend(models.BlockedIP{IPAddress: "10.2.2.2", ExpiresAt: ptrTime(now.Add(-time.Minute))})
	require.NoError(t, err)

	r.ReplaceSince([]models.BlockedIP{
		{IPAddress: "10.0.0.1", IsPermanent: true},
		{IPAddress: "10.1.1.1", ExpiresAt: ptrTime(now.Add(time.Hour))},
	}, mark)

	assert.False(t, r.IsBlocked("10.9.9.9"), "inserts before the mark follow the loaded set")
	assert.True(t, r.IsBlocked("10.0.0.1"))
	assert.True(t, r.IsBlocked("192.0.2.10"))
	assert.False(t, r.IsBlocked("10.2.2.2"), "expired inserts are not carried over")

	entry, ok := r.Lookup("10.1.1.1")
	require.True(t, ok)
	require.NotNil(t, entry.ExpiresAt)
	assert.Equal(t, now.Add(2*time.Hour), *entry.ExpiresAt, "the later expiry wins")

	// once a load has covered them, inserts are no longer carried over
	r.ReplaceSince(nil, r.Mark())
	assert.False(t, r.IsBlocked("192.0.2.10"))
	assert.Zero(t, r.Len())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _, _ = r.InsertOrExtend(models.BlockedIP{IPAddress: fmt.Sprintf("10.0.0.%d", i), IsPermanent: true})
		}(i)
		go func(i int) {
			defer wg.Done()
			_ = r.IsBlocked(fmt.Sprintf("10.0.0.%d", i))
			_ = r.SweepExpired()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())
}
