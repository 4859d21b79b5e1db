package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Wikid82/cerberus/internal/models"
)

// ErrInvalidMode is returned when storing an unknown engine mode.
var ErrInvalidMode = errors.New("invalid validation mode")

// SettingsService reads and writes runtime key/value settings.
type SettingsService struct {
	db *gorm.DB
}

// NewSettingsService returns a SettingsService using the provided DB.
func NewSettingsService(db *gorm.DB) *SettingsService {
	return &SettingsService{db: db}
}

// Get returns the value stored under key and whether it exists.
func (s *SettingsService) Get(ctx context.Context, key string) (string, bool, error) {
	var setting models.Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return setting.Value, true, nil
}

// Set upserts a value.
func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	setting := models.Setting{Key: key, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
}

// WAFMode returns the stored mode override. ok is false when none is stored.
func (s *SettingsService) WAFMode(ctx context.Context) (mode models.Mode, ok bool, err error) {
	raw, found, err := s.Get(ctx, models.SettingWAFMode)
	if err != nil || !found {
		return "", false, err
	}
	mode, ok = models.ParseMode(raw)
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
	return mode, true, nil
}

// SetWAFMode stores a mode override.
func (s *SettingsService) SetWAFMode(ctx context.Context, raw string) (models.Mode, error) {
	mode, ok := models.ParseMode(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
	return mode, s.Set(ctx, models.SettingWAFMode, string(mode))
}
