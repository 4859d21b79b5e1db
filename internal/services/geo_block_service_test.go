package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/cerberus/internal/models"
)

func TestGeoBlockService_CreateToggleDelete(t *testing.T) {
	svc := NewGeoBlockService(setupTestDB(t))
	ctx := context.Background()

	rule := &models.GeoBlockRule{CountryCode: " kp ", CountryName: "North Korea", Enabled: true}
	require.NoError(t, svc.Create(ctx, rule))
	assert.Equal(t, "KP", rule.CountryCode)
	assert.Equal(t, models.GeoDeny, rule.BlockType)

	assert.ErrorIs(t, svc.Create(ctx, &models.GeoBlockRule{CountryCode: "KP", Enabled: true}), ErrGeoRuleExists)

	toggled, err := svc.Toggle(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)
	n, err := svc.CountEnabled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	toggled, err = svc.Toggle(ctx, rule.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Enabled)

	require.NoError(t, svc.Delete(ctx, rule.ID))
	_, err = svc.Toggle(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrGeoRuleNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, rule.ID), ErrGeoRuleNotFound)
}

func TestGeoBlockService_Validation(t *testing.T) {
	svc := NewGeoBlockService(setupTestDB(t))
	ctx := context.Background()

	for _, code := range []string{"", "K", "KPX", "1A"} {
		assert.ErrorIs(t, svc.Create(ctx, &models.GeoBlockRule{CountryCode: code}), ErrInvalidCountryCode, code)
	}
	assert.ErrorIs(t, svc.Create(ctx, &models.GeoBlockRule{CountryCode: "DE", BlockType: "MAYBE"}), ErrInvalidBlockType)

	require.NoError(t, svc.Create(ctx, &models.GeoBlockRule{CountryCode: "de", BlockType: "allow", Enabled: true}))
	rules, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, models.GeoAllow, rules[0].BlockType)
}
