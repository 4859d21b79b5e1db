package models

import (
	"strings"
	"time"
)

// Severities, ordered from least to most severe.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

var severityRank = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// IsValidSeverity reports whether s is a known severity.
func IsValidSeverity(s string) bool {
	_, ok := severityRank[s]
	return ok
}

// SeverityAtLeast reports whether s is at least as severe as min.
// Unknown severities rank below LOW.
func SeverityAtLeast(s, min string) bool {
	return severityRank[strings.ToUpper(s)] >= severityRank[strings.ToUpper(min)]
}

// Rule actions and verdict actions.
const (
	ActionAllow = "ALLOW"
	ActionLog   = "LOG"
	ActionBlock = "BLOCK"
)

// IsValidRuleAction reports whether a is an action a rule may carry.
func IsValidRuleAction(a string) bool {
	return a == ActionLog || a == ActionBlock
}

// Mode is the service-wide enforcement mode.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeDetect Mode = "detect"
	ModeBlock  Mode = "block"
)

// ParseMode accepts off/detect/block in any case, plus the legacy aliases
// "disabled" and "monitor".
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "disabled", "false":
		return ModeOff, true
	case "detect", "monitor":
		return ModeDetect, true
	case "block", "enforce":
		return ModeBlock, true
	}
	return "", false
}

// ValidationRequest describes one inbound HTTP request.
type ValidationRequest struct {
	SourceIP    string            `json:"source_ip"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Query       string            `json:"query,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	CountryCode string            `json:"country_code,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Violation is produced for every signature rule that matched a request.
type Violation struct {
	RuleID         string `json:"rule_id"`
	RuleName       string `json:"rule_name"`
	Category       string `json:"category"`
	Severity       string `json:"severity"`
	MatchedPattern string `json:"matched_pattern"`
	MatchedContent string `json:"matched_content"`
	Action         string `json:"action"`
}

// ValidationResult is the verdict for one request.
type ValidationResult struct {
	Allowed     bool        `json:"allowed"`
	Violations  []Violation `json:"violations"`
	ActionTaken string      `json:"action_taken"`
	Reason      string      `json:"reason,omitempty"`
}

// HasViolations reports whether any signature rule matched.
func (r *ValidationResult) HasViolations() bool {
	return len(r.Violations) > 0
}

// LoginAttempt is a completed authentication attempt reported by the
// surrounding application.
type LoginAttempt struct {
	RequestID   string    `json:"request_id,omitempty"`
	SourceIP    string    `json:"source_ip"`
	UserID      string    `json:"user_id"`
	CountryCode string    `json:"country_code,omitempty"`
	Success     bool      `json:"success"`
	Timestamp   time.Time `json:"timestamp"`
}
