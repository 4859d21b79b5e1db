package models

import (
	"time"
)

// GeoBlockRule allows or denies traffic from one ISO 3166-1 alpha-2 country.
type GeoBlockRule struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	CountryCode string    `json:"country_code" gorm:"size:10;uniqueIndex;not null"`
	CountryName string    `json:"country_name"`
	BlockType   string    `json:"block_type" gorm:"size:20;not null;default:DENY"` // ALLOW, DENY
	Reason      string    `json:"reason" gorm:"size:500"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Geo rule block types.
const (
	GeoAllow = "ALLOW"
	GeoDeny  = "DENY"
)
