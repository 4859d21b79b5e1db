package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/cerberus/internal/models"
)

var (
	ErrInvalidRuleType  = errors.New("invalid threat rule type")
	ErrInvalidThreshold = errors.New("threshold and window must be positive")
	ErrInvalidDuration  = errors.New("auto-block duration must be positive")
)

// ThreatRuleService manages sliding-window threat rules.
type ThreatRuleService struct {
	db   *gorm.DB
	hook invalidation
}

// NewThreatRuleService returns a ThreatRuleService using the provided DB.
func NewThreatRuleService(db *gorm.DB) *ThreatRuleService {
	return &ThreatRuleService{db: db}
}

// SetInvalidator registers the hook run after mutations.
func (s *ThreatRuleService) SetInvalidator(fn Invalidator) { s.hook.set(fn) }

// List returns all threat rules by name.
func (s *ThreatRuleService) List(ctx context.Context) ([]models.ThreatRule, error) {
	var rules []models.ThreatRule
	err := s.db.WithContext(ctx).Order("name asc").Find(&rules).Error
	return rules, err
}

// ListEnabled returns the enabled threat rules.
func (s *ThreatRuleService) ListEnabled(ctx context.Context) ([]models.ThreatRule, error) {
	var rules []models.ThreatRule
	err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("name asc").Find(&rules).Error
	return rules, err
}

// GetByID returns a single threat rule.
func (s *ThreatRuleService) GetByID(ctx context.Context, id string) (*models.ThreatRule, error) {
	var rule models.ThreatRule
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// Create validates and stores a new threat rule.
func (s *ThreatRuleService) Create(ctx context.Context, rule *models.ThreatRule) error {
	if err := normalizeThreatRule(rule); err != nil {
		return err
	}
	if err := s.ensureUniqueName(ctx, rule.Name, ""); err != nil {
		return err
	}
	rule.ID = uuid.NewString()
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return err
	}
	s.hook.run(ctx)
	return nil
}

// Update replaces the editable fields of an existing threat rule.
func (s *ThreatRuleService) Update(ctx context.Context, id string, update models.ThreatRule) (*models.ThreatRule, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := normalizeThreatRule(&update); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, update.Name, id); err != nil {
		return nil, err
	}

	existing.Name = update.Name
	existing.Description = update.Description
	existing.RuleType = update.RuleType
	existing.Enabled = update.Enabled
	existing.Severity = update.Severity
	existing.Threshold = update.Threshold
	existing.WindowMinutes = update.WindowMinutes
	existing.Action = update.Action
	existing.AutoBlockDurationHours = update.AutoBlockDurationHours
	if err := s.db.WithContext(ctx).Save(existing).Error; err != nil {
		return nil, err
	}
	s.hook.run(ctx)
	return existing, nil
}

// SetEnabled toggles a threat rule on or off.
func (s *ThreatRuleService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&models.ThreatRule{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	s.hook.run(ctx)
	return nil
}

// Delete removes a threat rule.
func (s *ThreatRuleService) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ThreatRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	s.hook.run(ctx)
	return nil
}

func (s *ThreatRuleService) ensureUniqueName(ctx context.Context, name, exceptID string) error {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.ThreatRule{}).Where("name = ?", name)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRuleName, name)
	}
	return nil
}

func normalizeThreatRule(rule *models.ThreatRule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		return ErrInvalidRuleName
	}
	rule.RuleType = strings.ToUpper(strings.TrimSpace(rule.RuleType))
	if !slices.Contains(models.ThreatRuleTypes, rule.RuleType) {
		return fmt.Errorf("%w: %q", ErrInvalidRuleType, rule.RuleType)
	}
	rule.Severity = strings.ToUpper(strings.TrimSpace(rule.Severity))
	if !models.IsValidSeverity(rule.Severity) {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, rule.Severity)
	}
	rule.Action = strings.ToUpper(strings.TrimSpace(rule.Action))
	if rule.Action == "" {
		rule.Action = models.ActionLog
	}
	if !models.IsValidRuleAction(rule.Action) {
		return fmt.Errorf("%w: %q", ErrInvalidAction, rule.Action)
	}
	if rule.Threshold == 0 {
		rule.Threshold = 5
	}
	if rule.WindowMinutes == 0 {
		rule.WindowMinutes = 5
	}
	if rule.Threshold < 0 || rule.WindowMinutes < 0 {
		return ErrInvalidThreshold
	}
	if rule.AutoBlockDurationHours != nil && *rule.AutoBlockDurationHours <= 0 {
		return ErrInvalidDuration
	}
	return nil
}
