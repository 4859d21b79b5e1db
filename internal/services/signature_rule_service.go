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
	"github.com/Wikid82/cerberus/internal/rulecache"
)

var (
	ErrRuleNotFound      = errors.New("rule not found")
	ErrDuplicateRuleName = errors.New("rule name already exists")
	ErrInvalidPattern    = rulecache.ErrInvalidPattern
	ErrInvalidCategory   = errors.New("invalid rule category")
	ErrInvalidSeverity   = errors.New("invalid severity")
	ErrInvalidAction     = errors.New("invalid rule action")
	ErrInvalidRuleName   = errors.New("rule name is required")
)

// SignatureRuleService manages signature rules.
type SignatureRuleService struct {
	db   *gorm.DB
	hook invalidation
}

// NewSignatureRuleService returns a SignatureRuleService using the provided DB.
func NewSignatureRuleService(db *gorm.DB) *SignatureRuleService {
	return &SignatureRuleService{db: db}
}

// SetInvalidator registers the hook run after mutations.
func (s *SignatureRuleService) SetInvalidator(fn Invalidator) { s.hook.set(fn) }

// List returns all rules ordered by evaluation order.
func (s *SignatureRuleService) List(ctx context.Context) ([]models.SignatureRule, error) {
	var rules []models.SignatureRule
	err := s.db.WithContext(ctx).Order("priority asc, name asc").Find(&rules).Error
	return rules, err
}

// ListEnabled returns the enabled rules ordered by evaluation order.
func (s *SignatureRuleService) ListEnabled(ctx context.Context) ([]models.SignatureRule, error) {
	var rules []models.SignatureRule
	err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("priority asc, name asc").Find(&rules).Error
	return rules, err
}

// GetByID returns a single rule.
func (s *SignatureRuleService) GetByID(ctx context.Context, id string) (*models.SignatureRule, error) {
	var rule models.SignatureRule
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// Create validates and stores a new rule. The pattern must compile.
func (s *SignatureRuleService) Create(ctx context.Context, rule *models.SignatureRule) error {
	if err := normalizeSignatureRule(rule); err != nil {
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

// Update replaces the editable fields of an existing rule.
func (s *SignatureRuleService) Update(ctx context.Context, id string, update models.SignatureRule) (*models.SignatureRule, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := normalizeSignatureRule(&update); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, update.Name, id); err != nil {
		return nil, err
	}

	existing.Name = update.Name
	existing.Description = update.Description
	existing.Category = update.Category
	existing.Pattern = update.Pattern
	existing.Severity = update.Severity
	existing.Enabled = update.Enabled
	existing.Priority = update.Priority
	existing.Action = update.Action
	if err := s.db.WithContext(ctx).Save(existing).Error; err != nil {
		return nil, err
	}
	s.hook.run(ctx)
	return existing, nil
}

// SetEnabled toggles a rule on or off.
func (s *SignatureRuleService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&models.SignatureRule{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	s.hook.run(ctx)
	return nil
}

// Delete removes a rule.
func (s *SignatureRuleService) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SignatureRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	s.hook.run(ctx)
	return nil
}

func (s *SignatureRuleService) ensureUniqueName(ctx context.Context, name, exceptID string) error {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.SignatureRule{}).Where("name = ?", name)
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

func normalizeSignatureRule(rule *models.SignatureRule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		return ErrInvalidRuleName
	}
	rule.Category = strings.ToUpper(strings.TrimSpace(rule.Category))
	if !slices.Contains(models.SignatureCategories, rule.Category) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, rule.Category)
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
	if rule.Priority == 0 {
		rule.Priority = models.DefaultSignaturePriority
	}
	if _, err := rulecache.CompilePattern(rule.Pattern); err != nil {
		return err
	}
	return nil
}
