// Package rulesets ships the default signature and threat rules and loads
// custom rule files in the same YAML format.
package rulesets

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Wikid82/cerberus/internal/models"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// SignatureRuleEntry is the file form of a signature rule. Enabled defaults to
// true when omitted.
type SignatureRuleEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Pattern     string `yaml:"pattern"`
	Severity    string `yaml:"severity"`
	Priority    int    `yaml:"priority"`
	Action      string `yaml:"action"`
	Enabled     *bool  `yaml:"enabled"`
}

// ThreatRuleEntry is the file form of a threat rule.
type ThreatRuleEntry struct {
	Name                   string `yaml:"name"`
	Description            string `yaml:"description"`
	RuleType               string `yaml:"rule_type"`
	Severity               string `yaml:"severity"`
	Threshold              int    `yaml:"threshold"`
	WindowMinutes          int    `yaml:"window_minutes"`
	Action                 string `yaml:"action"`
	AutoBlockDurationHours *int   `yaml:"auto_block_duration_hours"`
	Enabled                *bool  `yaml:"enabled"`
}

// RuleSet is a parsed rule file.
type RuleSet struct {
	SignatureRules []SignatureRuleEntry `yaml:"signature_rules"`
	ThreatRules    []ThreatRuleEntry    `yaml:"threat_rules"`
}

// Default returns the built-in rule set.
func Default() (*RuleSet, error) {
	return Parse(bytes.NewReader(defaultsYAML))
}

// LoadFile parses a rule file from disk.
func LoadFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rule file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a rule set. Unknown keys are rejected.
func Parse(r io.Reader) (*RuleSet, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var rs RuleSet
	if err := dec.Decode(&rs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}
	return &rs, nil
}

// Signatures converts the file entries to models.
func (rs *RuleSet) Signatures() []models.SignatureRule {
	out := make([]models.SignatureRule, 0, len(rs.SignatureRules))
	for _, s := range rs.SignatureRules {
		out = append(out, models.SignatureRule{
			Name:        s.Name,
			Description: s.Description,
			Category:    s.Category,
			Pattern:     s.Pattern,
			Severity:    s.Severity,
			Priority:    s.Priority,
			Action:      s.Action,
			Enabled:     enabled(s.Enabled),
		})
	}
	return out
}

// Threats converts the file entries to models.
func (rs *RuleSet) Threats() []models.ThreatRule {
	out := make([]models.ThreatRule, 0, len(rs.ThreatRules))
	for _, t := range rs.ThreatRules {
		out = append(out, models.ThreatRule{
			Name:                   t.Name,
			Description:            t.Description,
			RuleType:               t.RuleType,
			Severity:               t.Severity,
			Threshold:              t.Threshold,
			WindowMinutes:          t.WindowMinutes,
			Action:                 t.Action,
			AutoBlockDurationHours: t.AutoBlockDurationHours,
			Enabled:                enabled(t.Enabled),
		})
	}
	return out
}

func enabled(b *bool) bool {
	return b == nil || *b
}
