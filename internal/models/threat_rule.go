package models

import (
	"time"
)

// ThreatRule turns repeated suspicious behaviour from one source into a
// trigger, and optionally a time-boxed block.
type ThreatRule struct {
	ID                     string    `json:"id" gorm:"primaryKey;size:36"`
	Name                   string    `json:"name" gorm:"uniqueIndex;not null"`
	Description            string    `json:"description" gorm:"type:text"`
	RuleType               string    `json:"rule_type" gorm:"size:50;not null;index"`
	Enabled                bool      `json:"enabled" gorm:"index"`
	Severity               string    `json:"severity" gorm:"size:20;not null"`
	Threshold              int       `json:"threshold" gorm:"not null;default:5"`
	WindowMinutes          int       `json:"window_minutes" gorm:"not null;default:5"`
	Action                 string    `json:"action" gorm:"size:20;not null"`
	AutoBlockDurationHours *int      `json:"auto_block_duration_hours"` // nil disables auto-block
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Threat rule types.
const (
	RuleTypeBruteForce         = "BRUTE_FORCE"
	RuleTypeCredentialStuffing = "CREDENTIAL_STUFFING"
	RuleTypeImpossibleTravel   = "IMPOSSIBLE_TRAVEL"
	RuleTypeRateLimit          = "RATE_LIMIT"
	RuleTypeWAFAbuse           = "WAF_ABUSE"
)

// ThreatRuleTypes lists the rule types accepted by the rule store.
var ThreatRuleTypes = []string{
	RuleTypeBruteForce,
	RuleTypeCredentialStuffing,
	RuleTypeImpossibleTravel,
	RuleTypeRateLimit,
	RuleTypeWAFAbuse,
}

// Window returns the sliding window length of the rule.
func (r *ThreatRule) Window() time.Duration {
	if r.WindowMinutes <= 0 {
		return 0
	}
	return time.Duration(r.WindowMinutes) * time.Minute
}

// AutoBlockDuration returns how long an auto-block lasts, or 0 when the rule
// never auto-blocks.
func (r *ThreatRule) AutoBlockDuration() time.Duration {
	if r.AutoBlockDurationHours == nil || *r.AutoBlockDurationHours <= 0 {
		return 0
	}
	return time.Duration(*r.AutoBlockDurationHours) * time.Hour
}
