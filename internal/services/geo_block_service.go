package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/cerberus/internal/geoblock"
	"github.com/Wikid82/cerberus/internal/models"
)

var (
	ErrGeoRuleExists      = errors.New("geo rule already exists for country")
	ErrGeoRuleNotFound    = errors.New("geo rule not found")
	ErrInvalidCountryCode = errors.New("invalid country code")
	ErrInvalidBlockType   = errors.New("invalid geo block type")
)

// GeoBlockService manages per-country allow and deny rules.
type GeoBlockService struct {
	db   *gorm.DB
	hook invalidation
}

// NewGeoBlockService returns a GeoBlockService using the provided DB.
func NewGeoBlockService(db *gorm.DB) *GeoBlockService {
	return &GeoBlockService{db: db}
}

// SetInvalidator registers the hook run after mutations.
func (s *GeoBlockService) SetInvalidator(fn Invalidator) { s.hook.set(fn) }

// List returns all geo rules by country code.
func (s *GeoBlockService) List(ctx context.Context) ([]models.GeoBlockRule, error) {
	var rules []models.GeoBlockRule
	err := s.db.WithContext(ctx).Order("country_code asc").Find(&rules).Error
	return rules, err
}

// CountEnabled returns the number of enabled geo rules.
func (s *GeoBlockService) CountEnabled(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.GeoBlockRule{}).Where("enabled = ?", true).Count(&n).Error
	return n, err
}

// Create stores a rule for a country that has none yet.
func (s *GeoBlockService) Create(ctx context.Context, rule *models.GeoBlockRule) error {
	rule.CountryCode = geoblock.NormalizeCountryCode(rule.CountryCode)
	if !isCountryCode(rule.CountryCode) {
		return fmt.Errorf("%w: %q", ErrInvalidCountryCode, rule.CountryCode)
	}
	rule.BlockType = strings.ToUpper(strings.TrimSpace(rule.BlockType))
	if rule.BlockType == "" {
		rule.BlockType = models.GeoDeny
	}
	if rule.BlockType != models.GeoDeny && rule.BlockType != models.GeoAllow {
		return fmt.Errorf("%w: %q", ErrInvalidBlockType, rule.BlockType)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.GeoBlockRule{}).Where("country_code = ?", rule.CountryCode).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrGeoRuleExists, rule.CountryCode)
	}

	rule.ID = uuid.NewString()
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return err
	}
	s.hook.run(ctx)
	return nil
}

// Toggle flips the enabled flag of a rule and returns the updated rule.
func (s *GeoBlockService) Toggle(ctx context.Context, id string) (*models.GeoBlockRule, error) {
	var rule models.GeoBlockRule
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGeoRuleNotFound
		}
		return nil, err
	}
	rule.Enabled = !rule.Enabled
	if err := s.db.WithContext(ctx).Model(&rule).Update("enabled", rule.Enabled).Error; err != nil {
		return nil, err
	}
	s.hook.run(ctx)
	return &rule, nil
}

// Delete removes a rule.
func (s *GeoBlockService) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.GeoBlockRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGeoRuleNotFound
	}
	s.hook.run(ctx)
	return nil
}

// isCountryCode accepts ISO 3166-1 alpha-2 codes.
func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
