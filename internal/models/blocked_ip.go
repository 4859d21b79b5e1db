package models

import (
	"time"
)

// BlockedIP is a single address or CIDR range that must not reach the service.
// Exactly one of IPAddress or CIDRRange is set.
type BlockedIP struct {
	ID          string     `json:"id" gorm:"primaryKey;size:36"`
	IPAddress   string     `json:"ip_address" gorm:"size:45;index"`
	CIDRRange   string     `json:"cidr_range" gorm:"column:cidr_range;size:50;index"`
	Reason      string     `json:"reason" gorm:"size:500;not null"`
	BlockedBy   string     `json:"blocked_by" gorm:"size:100;not null;default:SYSTEM"`
	IsPermanent bool       `json:"is_permanent"`
	ExpiresAt   *time.Time `json:"expires_at" gorm:"index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BlockedBySystem marks entries inserted by the threat detector.
const BlockedBySystem = "SYSTEM"

// Target returns the address or range the entry applies to.
func (b *BlockedIP) Target() string {
	if b.CIDRRange != "" {
		return b.CIDRRange
	}
	return b.IPAddress
}

// IsActive reports whether the entry still blocks at the given instant.
// Non-permanent entries without an expiry stay active until removed.
func (b *BlockedIP) IsActive(now time.Time) bool {
	if b.IsPermanent || b.ExpiresAt == nil {
		return true
	}
	return b.ExpiresAt.After(now)
}

// IsExpired reports whether the sweep may delete the entry.
func (b *BlockedIP) IsExpired(now time.Time) bool {
	return !b.IsPermanent && b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}
