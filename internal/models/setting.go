package models

import (
	"time"
)

// Setting is a runtime key/value toggle stored next to the rules.
type Setting struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"uniqueIndex"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingWAFMode overrides the configured engine mode when present.
const SettingWAFMode = "security.waf.mode"
