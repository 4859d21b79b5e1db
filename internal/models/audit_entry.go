package models

import (
	"time"
)

// AuditEntry records an administrative change to the rule store.
type AuditEntry struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Actor     string    `json:"actor" gorm:"size:100"`
	Action    string    `json:"action" gorm:"size:50;index"`
	Target    string    `json:"target,omitempty" gorm:"size:255"`
	Details   string    `json:"details,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// Audit actions.
const (
	AuditRulesSeeded   = "rules.seed"
	AuditModeChanged   = "mode.set"
	AuditIPBlocked     = "ip.block"
	AuditIPUnblocked   = "ip.unblock"
	AuditEventResolved = "event.resolve"
)
