package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/Wikid82/cerberus/internal/models"
)

// Store bundles the services backing the engine and exposes them through the
// engine's narrow interfaces.
type Store struct {
	Signatures *SignatureRuleService
	Threats    *ThreatRuleService
	Blocks     *BlockService
	Geo        *GeoBlockService
	Events     *EventService
	Settings   *SettingsService
	Audit      *AuditService
}

var (
	_ models.RuleSource   = (*Store)(nil)
	_ models.EventSink    = (*Store)(nil)
	_ models.BlockMutator = (*Store)(nil)
)

// NewStore returns a Store using the provided DB.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		Signatures: NewSignatureRuleService(db),
		Threats:    NewThreatRuleService(db),
		Blocks:     NewBlockService(db),
		Geo:        NewGeoBlockService(db),
		Events:     NewEventService(db),
		Settings:   NewSettingsService(db),
		Audit:      NewAuditService(db),
	}
}

// SetInvalidator registers fn on every service that mutates rules.
func (s *Store) SetInvalidator(fn Invalidator) {
	s.Signatures.SetInvalidator(fn)
	s.Threats.SetInvalidator(fn)
	s.Blocks.SetInvalidator(fn)
	s.Geo.SetInvalidator(fn)
}

func (s *Store) LoadEnabledSignatureRules(ctx context.Context) ([]models.SignatureRule, error) {
	return s.Signatures.ListEnabled(ctx)
}

func (s *Store) LoadEnabledThreatRules(ctx context.Context) ([]models.ThreatRule, error) {
	return s.Threats.ListEnabled(ctx)
}

// LoadBlockedIPs returns the blocks still in force.
func (s *Store) LoadBlockedIPs(ctx context.Context) ([]models.BlockedIP, error) {
	return s.Blocks.List(ctx, true)
}

func (s *Store) LoadGeoBlockRules(ctx context.Context) ([]models.GeoBlockRule, error) {
	return s.Geo.List(ctx)
}

func (s *Store) RecordEvent(ctx context.Context, event *models.ThreatEvent) error {
	return s.Events.RecordEvent(ctx, event)
}

func (s *Store) InsertOrExtendBlock(ctx context.Context, block models.BlockedIP) (*models.BlockedIP, error) {
	return s.Blocks.InsertOrExtendBlock(ctx, block)
}
