package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wikid82/cerberus/internal/models"
)

// SeedResult counts what Seed stored and what already existed.
type SeedResult struct {
	SignaturesCreated int
	ThreatsCreated    int
	Skipped           int
}

// Seed inserts rules whose names are not taken yet. Existing rules are left
// untouched so operator edits survive a re-seed. Invalid rules abort the run.
func (s *Store) Seed(ctx context.Context, signatures []models.SignatureRule, threats []models.ThreatRule) (SeedResult, error) {
	var res SeedResult
	for i := range signatures {
		rule := signatures[i]
		err := s.Signatures.Create(ctx, &rule)
		switch {
		case errors.Is(err, ErrDuplicateRuleName):
			res.Skipped++
		case err != nil:
			return res, fmt.Errorf("seed signature rule %s: %w", rule.Name, err)
		default:
			res.SignaturesCreated++
		}
	}
	for i := range threats {
		rule := threats[i]
		err := s.Threats.Create(ctx, &rule)
		switch {
		case errors.Is(err, ErrDuplicateRuleName):
			res.Skipped++
		case err != nil:
			return res, fmt.Errorf("seed threat rule %s: %w", rule.Name, err)
		default:
			res.ThreatsCreated++
		}
	}
	return res, nil
}
