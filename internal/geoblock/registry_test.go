package geoblock

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Wikid82/cerberus/internal/models"
)

func TestRegistry_DenyList(t *testing.T) {
	r := New(DenyList)
	r.Replace([]models.GeoBlockRule{
		{CountryCode: "kp", BlockType: models.GeoDeny, Enabled: true},
		{CountryCode: "IR", BlockType: models.GeoDeny, Enabled: false},
		{CountryCode: "US", BlockType: models.GeoAllow, Enabled: true},
	})

	assert.True(t, r.IsCountryBlocked("KP"))
	assert.True(t, r.IsCountryBlocked(" kp "))
	assert.False(t, r.IsCountryBlocked("IR"), "disabled rule does not block")
	assert.False(t, r.IsCountryBlocked("US"))
	assert.False(t, r.IsCountryBlocked("DE"), "absence of a rule means not blocked")
	assert.False(t, r.IsCountryBlocked(""))
}

func TestRegistry_AllowList(t *testing.T) {
	r := New(AllowList)
	r.Replace([]models.GeoBlockRule{
		{CountryCode: "US", BlockType: models.GeoAllow, Enabled: true},
		{CountryCode: "CA", BlockType: models.GeoAllow, Enabled: false},
		{CountryCode: "RU", BlockType: models.GeoDeny, Enabled: true},
	})

	assert.Equal(t, AllowList, r.Mode())
	assert.False(t, r.IsCountryBlocked("US"))
	assert.True(t, r.IsCountryBlocked("CA"), "disabled allow rule does not allow")
	assert.True(t, r.IsCountryBlocked("RU"))
	assert.True(t, r.IsCountryBlocked("FR"), "unlisted country is blocked in allow-list mode")
	assert.False(t, r.IsCountryBlocked(""), "unknown country is never blocked")
}

func TestRegistry_DuplicatePrecedence(t *testing.T) {
	r := New(DenyList)
	r.Replace([]models.GeoBlockRule{
		{CountryCode: "CN", BlockType: models.GeoAllow, Enabled: true},
		{CountryCode: "cn", BlockType: models.GeoDeny, Enabled: true},
		{CountryCode: "BR", BlockType: models.GeoDeny, Enabled: true},
		{CountryCode: "BR", BlockType: models.GeoDeny, Enabled: false},
	})

	assert.Equal(t, 2, r.Len())
	assert.True(t, r.IsCountryBlocked("CN"), "DENY wins over ALLOW")
	assert.True(t, r.IsCountryBlocked("BR"), "enabled wins over disabled")
}

func TestRegistry_UnknownModeDefaultsToDeny(t *testing.T) {
	r := New("whatever")
	assert.Equal(t, DenyList, r.Mode())

	r.Replace([]models.GeoBlockRule{{CountryCode: "ng", BlockType: "deny", Enabled: true}})
	assert.True(t, r.IsCountryBlocked("NG"))
}

func TestRegistry_DisabledDuplicateNeverOverridesDeny(t *testing.T) {
	r := New(DenyList)
	// order must not matter: the enabled DENY wins whichever comes last
	r.Replace([]models.GeoBlockRule{
		{CountryCode: "RU", BlockType: models.GeoDeny, Enabled: true},
		{CountryCode: "RU", BlockType: models.GeoAllow, Enabled: false},
	})
	assert.True(t, r.IsCountryBlocked("RU"))

	r.Replace([]models.GeoBlockRule{
		{CountryCode: "RU", BlockType: models.GeoAllow, Enabled: false},
		{CountryCode: "RU", BlockType: models.GeoDeny, Enabled: true},
	})
	assert.True(t, r.IsCountryBlocked("RU"))
	assert.Equal(t, 1, r.Len())
}
