package rulecache

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Wikid82/cerberus/internal/models"
)

// MaxPatternLength bounds the size of a signature pattern.
const MaxPatternLength = 4096

// ErrInvalidPattern is returned for patterns that cannot be compiled.
var ErrInvalidPattern = errors.New("invalid signature pattern")

// CompiledRule pairs a signature rule with its compiled pattern.
type CompiledRule struct {
	Rule   models.SignatureRule
	Regexp *regexp.Regexp
}

// Snapshot is an immutable view of the enabled rules. It is never modified
// after publication, so readers need no locking.
type Snapshot struct {
	Signatures  []CompiledRule
	ThreatRules []models.ThreatRule
	LoadedAt    time.Time
}

// CompilePattern compiles a signature pattern case-insensitively. Patterns
// that set their own flags, e.g. "(?i)" or "(?s)", are compiled as written.
// Go's RE2 engine runs in time linear to the input, so any pattern that
// compiles has bounded matching cost; backreferences and lookaround are
// rejected by the compiler.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if len(pattern) > MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern exceeds %d bytes", ErrInvalidPattern, MaxPatternLength)
	}
	expr := pattern
	if !strings.HasPrefix(expr, "(?") || strings.HasPrefix(expr, "(?:") || strings.HasPrefix(expr, "(?P<") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return re, nil
}

// NewSnapshot compiles the enabled rules and orders them by ascending
// priority, then name. Rules that fail to compile are left out and returned
// as errors; the store rejects such patterns at creation, so this only
// happens when the backing table was edited directly.
func NewSnapshot(signatures []models.SignatureRule, threats []models.ThreatRule, loadedAt time.Time) (*Snapshot, []error) {
	var errs []error
	snap := &Snapshot{LoadedAt: loadedAt}

	for _, rule := range signatures {
		if !rule.Enabled {
			continue
		}
		re, err := CompilePattern(rule.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.Name, err))
			continue
		}
		snap.Signatures = append(snap.Signatures, CompiledRule{Rule: rule, Regexp: re})
	}
	sort.SliceStable(snap.Signatures, func(i, j int) bool {
		a, b := snap.Signatures[i].Rule, snap.Signatures[j].Rule
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Name < b.Name
	})

	for _, rule := range threats {
		if rule.Enabled {
			snap.ThreatRules = append(snap.ThreatRules, rule)
		}
	}
	return snap, errs
}

// ThreatRulesOfType returns the enabled threat rules of one type.
func (s *Snapshot) ThreatRulesOfType(ruleType string) []models.ThreatRule {
	if s == nil {
		return nil
	}
	var out []models.ThreatRule
	for _, r := range s.ThreatRules {
		if r.RuleType == ruleType {
			out = append(out, r)
		}
	}
	return out
}
