package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/cerberus/internal/models"
)

func TestSettingsService_GetSet(t *testing.T) {
	svc := NewSettingsService(setupTestDB(t))
	ctx := context.Background()

	_, ok, err := svc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Set(ctx, "k", "v1"))
	require.NoError(t, svc.Set(ctx, "k", "v2"))
	v, ok, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestSettingsService_WAFMode(t *testing.T) {
	svc := NewSettingsService(setupTestDB(t))
	ctx := context.Background()

	_, ok, err := svc.WAFMode(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	mode, err := svc.SetWAFMode(ctx, "monitor")
	require.NoError(t, err)
	assert.Equal(t, models.ModeDetect, mode)

	mode, ok, err = svc.WAFMode(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.ModeDetect, mode)

	_, err = svc.SetWAFMode(ctx, "panic")
	assert.ErrorIs(t, err, ErrInvalidMode)

	require.NoError(t, svc.Set(ctx, models.SettingWAFMode, "garbage"))
	_, _, err = svc.WAFMode(ctx)
	assert.ErrorIs(t, err, ErrInvalidMode)
}
