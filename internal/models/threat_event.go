package models

import (
	"time"
)

// ThreatEvent is the audit record for a violation, a block decision or a
// threat rule trigger.
type ThreatEvent struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	EventType    string     `json:"event_type" gorm:"size:50;not null;index"`
	Severity     string     `json:"severity" gorm:"size:20;not null;index"`
	SourceIP     string     `json:"source_ip" gorm:"size:45;index"`
	TargetUserID string     `json:"target_user_id,omitempty" gorm:"size:36"`
	Description  string     `json:"description" gorm:"type:text;not null"`
	Details      string     `json:"details,omitempty" gorm:"type:text"` // JSON object
	Country      string     `json:"country,omitempty" gorm:"size:10"`
	Category     string     `json:"category,omitempty" gorm:"size:50;index"` // WAF_VIOLATION only
	Action       string     `json:"action,omitempty" gorm:"size:20;index"`   // WAF_VIOLATION only
	RequestID    string     `json:"request_id,omitempty" gorm:"size:36;index"`
	Resolved     bool       `json:"resolved" gorm:"index"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty" gorm:"size:100"`
	CreatedAt    time.Time  `json:"created_at" gorm:"index"`
}

// Event types emitted by the engine. Threat rule triggers use the rule type.
const (
	EventWAFViolation = "WAF_VIOLATION"
	EventIPBlocked    = "IP_BLOCKED"
	EventGeoBlocked   = "GEO_BLOCKED"
	EventAutoBlock    = "AUTO_BLOCK"
	EventLoginFailure = "LOGIN_FAILURE"
)
