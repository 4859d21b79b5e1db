package models

import (
	"time"
)

// SignatureRule is a named attack pattern evaluated by the signature matcher.
type SignatureRule struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Name        string    `json:"name" gorm:"uniqueIndex;not null"`
	Description string    `json:"description" gorm:"type:text"`
	Category    string    `json:"category" gorm:"size:50;not null;index"` // SQL_INJECTION, XSS, PATH_TRAVERSAL, ...
	Pattern     string    `json:"pattern" gorm:"type:text;not null"`
	Severity    string    `json:"severity" gorm:"size:20;not null"` // LOW, MEDIUM, HIGH, CRITICAL
	Enabled     bool      `json:"enabled" gorm:"index"`
	Priority    int       `json:"priority" gorm:"not null;default:100"` // lower evaluates first
	Action      string    `json:"action" gorm:"size:20;not null"`       // LOG, BLOCK
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultSignaturePriority is used when a rule is created without a priority.
const DefaultSignaturePriority = 100

// Signature rule categories. The set is open: stores accept any upper-case
// identifier listed in SignatureCategories.
const (
	CategorySQLInjection     = "SQL_INJECTION"
	CategoryXSS              = "XSS"
	CategoryPathTraversal    = "PATH_TRAVERSAL"
	CategoryCommandInjection = "COMMAND_INJECTION"
	CategorySSRF             = "SSRF"
	CategoryLFI              = "LFI"
	CategoryRFI              = "RFI"
	CategoryScanner          = "SCANNER"
	CategoryProtocol         = "PROTOCOL"
)

// SignatureCategories lists the categories accepted by the rule store.
var SignatureCategories = []string{
	CategorySQLInjection,
	CategoryXSS,
	CategoryPathTraversal,
	CategoryCommandInjection,
	CategorySSRF,
	CategoryLFI,
	CategoryRFI,
	CategoryScanner,
	CategoryProtocol,
}
