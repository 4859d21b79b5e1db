// Package matcher evaluates signature rules against an inbound request.
package matcher

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Wikid82/cerberus/internal/logger"
	"github.com/Wikid82/cerberus/internal/metrics"
	"github.com/Wikid82/cerberus/internal/models"
	"github.com/Wikid82/cerberus/internal/rulecache"
	"github.com/Wikid82/cerberus/internal/util"
)

const (
	// DefaultMaxInspectBytes caps the inspected subject when no limit is set.
	DefaultMaxInspectBytes = 64 * 1024
	// MaxExcerptLength bounds MatchedContent in a violation.
	MaxExcerptLength = 500
)

// Matcher is stateless apart from its inspection limit and safe for
// concurrent use.
type Matcher struct {
	maxInspectBytes int
}

// New returns a matcher inspecting at most maxInspectBytes of each request.
func New(maxInspectBytes int) *Matcher {
	if maxInspectBytes <= 0 {
		maxInspectBytes = DefaultMaxInspectBytes
	}
	return &Matcher{maxInspectBytes: maxInspectBytes}
}

// Subject builds the text signature rules are matched against: the path with
// its query, the body, every header value and the user agent, joined by
// spaces. A URL-decoded copy of path and query is appended when it differs.
func (m *Matcher) Subject(req *models.ValidationRequest) string {
	var b strings.Builder

	target := req.Path
	if req.Query != "" {
		target += "?" + req.Query
	}
	b.WriteString(target)
	if req.Body != "" {
		b.WriteByte(' ')
		b.WriteString(req.Body)
	}

	// header order is randomized by the map; sort for a stable subject
	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte(' ')
		b.WriteString(req.Headers[name])
	}
	if req.UserAgent != "" {
		b.WriteByte(' ')
		b.WriteString(req.UserAgent)
	}

	if decoded, err := url.QueryUnescape(target); err == nil && decoded != target {
		b.WriteByte(' ')
		b.WriteString(decoded)
	}

	return clip(b.String(), m.maxInspectBytes)
}

// Evaluate returns one violation per enabled rule in snap whose pattern
// matches the request, in rule order. A rule that panics is skipped. When ctx
// expires evaluation stops and the violations found so far are returned.
func (m *Matcher) Evaluate(ctx context.Context, snap *rulecache.Snapshot, req *models.ValidationRequest) []models.Violation {
	if snap == nil || len(snap.Signatures) == 0 {
		return nil
	}
	subject := m.Subject(req)

	var violations []models.Violation
	for i := range snap.Signatures {
		if err := ctx.Err(); err != nil {
			logger.Component("waf").WithFields(map[string]interface{}{
				"evaluated": i,
				"total":     len(snap.Signatures),
				"ip":        util.SanitizeForLog(req.SourceIP),
			}).Warn("Signature evaluation stopped early: match deadline exceeded")
			break
		}
		rule := &snap.Signatures[i]
		matched, excerpt, err := evaluateRule(rule, subject)
		if err != nil {
			metrics.IncRuleError()
			logger.Component("waf").WithError(err).WithField("rule", rule.Rule.Name).Warn("Signature rule evaluation failed")
			continue
		}
		if !matched {
			continue
		}
		violations = append(violations, models.Violation{
			RuleID:         rule.Rule.ID,
			RuleName:       rule.Rule.Name,
			Category:       rule.Rule.Category,
			Severity:       rule.Rule.Severity,
			MatchedPattern: rule.Rule.Pattern,
			MatchedContent: util.Truncate(excerpt, MaxExcerptLength),
			Action:         ruleAction(rule.Rule.Action),
		})
	}
	return violations
}

func evaluateRule(rule *rulecache.CompiledRule, subject string) (matched bool, excerpt string, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, excerpt = false, ""
			err = fmt.Errorf("panic evaluating rule %q: %v", rule.Rule.Name, r)
		}
	}()
	if rule.Regexp == nil {
		return false, "", fmt.Errorf("rule %q has no compiled pattern", rule.Rule.Name)
	}
	loc := rule.Regexp.FindStringIndex(subject)
	if loc == nil {
		return false, "", nil
	}
	if loc[0] == loc[1] {
		// empty match: report the subject head as context
		return true, subject, nil
	}
	return true, subject[loc[0]:loc[1]], nil
}

func ruleAction(action string) string {
	if action == models.ActionBlock {
		return models.ActionBlock
	}
	return models.ActionLog
}

// clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
