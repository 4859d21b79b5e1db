package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/cerberus/internal/models"
)

// ErrEventNotFound is returned when resolving an unknown event.
var ErrEventNotFound = errors.New("threat event not found")

// EventFilter narrows List. Zero fields do not filter.
type EventFilter struct {
	EventType      string
	Category       string
	Severity       string
	SourceIP       string
	UnresolvedOnly bool
	Since          time.Time
	Limit          int
}

// ThreatStats is the dashboard summary of recorded events.
type ThreatStats struct {
	EventsLast24h   int64            `json:"events_last_24h"`
	EventsLast7d    int64            `json:"events_last_7d"`
	Unresolved      int64            `json:"unresolved"`
	ByType          map[string]int64 `json:"by_type"`
	BySeverity      map[string]int64 `json:"by_severity"`
	ActiveBlocks    int64            `json:"active_blocks"`
	EnabledGeoRules int64            `json:"enabled_geo_rules"`
}

// WAFStats summarizes signature rule activity.
type WAFStats struct {
	Mode          models.Mode      `json:"mode"`
	TotalRules    int64            `json:"total_rules"`
	ActiveRules   int64            `json:"active_rules"`
	EventsLast24h int64            `json:"events_last_24h"`
	EventsLast7d  int64            `json:"events_last_7d"`
	ByCategory    map[string]int64 `json:"by_category"`
	ByAction      map[string]int64 `json:"by_action"`
}

// EventService stores and queries threat events.
type EventService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewEventService returns an EventService using the provided DB.
func NewEventService(db *gorm.DB) *EventService {
	return &EventService{db: db, now: utcNow}
}

// RecordEvent stores an event, assigning an ID and timestamp when missing.
func (s *EventService) RecordEvent(ctx context.Context, event *models.ThreatEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	} else {
		event.CreatedAt = event.CreatedAt.UTC()
	}
	return s.db.WithContext(ctx).Create(event).Error
}

// List returns events newest first.
func (s *EventService) List(ctx context.Context, f EventFilter) ([]models.ThreatEvent, error) {
	q := s.db.WithContext(ctx).Order("created_at desc")
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.SourceIP != "" {
		q = q.Where("source_ip = ?", f.SourceIP)
	}
	if f.UnresolvedOnly {
		q = q.Where("resolved = ?", false)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var events []models.ThreatEvent
	err := q.Find(&events).Error
	return events, err
}

// Resolve marks an event as handled by the given operator.
func (s *EventService) Resolve(ctx context.Context, id, resolvedBy string) (*models.ThreatEvent, error) {
	var event models.ThreatEvent
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	now := s.now()
	event.Resolved = true
	event.ResolvedAt = &now
	event.ResolvedBy = resolvedBy
	if err := s.db.WithContext(ctx).Model(&event).Updates(map[string]interface{}{
		"resolved":    true,
		"resolved_at": now,
		"resolved_by": resolvedBy,
	}).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// Stats summarizes recent activity. Block and geo counts are read from their
// own tables.
func (s *EventService) Stats(ctx context.Context) (*ThreatStats, error) {
	now := s.now()
	db := s.db.WithContext(ctx)
	stats := &ThreatStats{ByType: map[string]int64{}, BySeverity: map[string]int64{}}

	if err := db.Model(&models.ThreatEvent{}).Where("created_at >= ?", now.Add(-24*time.Hour)).Count(&stats.EventsLast24h).Error; err != nil {
		return nil, err
	}
	weekAgo := now.Add(-7 * 24 * time.Hour)
	if err := db.Model(&models.ThreatEvent{}).Where("created_at >= ?", weekAgo).Count(&stats.EventsLast7d).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.ThreatEvent{}).Where("resolved = ?", false).Count(&stats.Unresolved).Error; err != nil {
		return nil, err
	}

	type bucket struct {
		Name  string
		Count int64
	}
	var byType []bucket
	if err := db.Model(&models.ThreatEvent{}).Select("event_type AS name, COUNT(*) AS count").
		Where("created_at >= ?", weekAgo).Group("event_type").Scan(&byType).Error; err != nil {
		return nil, err
	}
	for _, b := range byType {
		stats.ByType[b.Name] = b.Count
	}
	var bySeverity []bucket
	if err := db.Model(&models.ThreatEvent{}).Select("severity AS name, COUNT(*) AS count").
		Where("created_at >= ?", weekAgo).Group("severity").Scan(&bySeverity).Error; err != nil {
		return nil, err
	}
	for _, b := range bySeverity {
		stats.BySeverity[b.Name] = b.Count
	}

	if err := activeScope(db.Model(&models.BlockedIP{}), now).Count(&stats.ActiveBlocks).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.GeoBlockRule{}).Where("enabled = ?", true).Count(&stats.EnabledGeoRules).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// WAFEvents returns WAF_VIOLATION events newest first, optionally narrowed
// to one category.
func (s *EventService) WAFEvents(ctx context.Context, category string, limit int) ([]models.ThreatEvent, error) {
	return s.List(ctx, EventFilter{EventType: models.EventWAFViolation, Category: category, Limit: limit})
}

// WAFStats counts WAF_VIOLATION events and signature rules. Mode is the
// stored override, or fallback when none is stored.
func (s *EventService) WAFStats(ctx context.Context, fallback models.Mode) (*WAFStats, error) {
	now := s.now()
	db := s.db.WithContext(ctx)
	stats := &WAFStats{Mode: fallback, ByCategory: map[string]int64{}, ByAction: map[string]int64{}}

	mode, ok, err := NewSettingsService(s.db).WAFMode(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		stats.Mode = mode
	}

	if err := db.Model(&models.SignatureRule{}).Count(&stats.TotalRules).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.SignatureRule{}).Where("enabled = ?", true).Count(&stats.ActiveRules).Error; err != nil {
		return nil, err
	}

	violations := func() *gorm.DB {
		return db.Model(&models.ThreatEvent{}).Where("event_type = ?", models.EventWAFViolation)
	}
	if err := violations().Where("created_at >= ?", now.Add(-24*time.Hour)).Count(&stats.EventsLast24h).Error; err != nil {
		return nil, err
	}
	weekAgo := now.Add(-7 * 24 * time.Hour)
	if err := violations().Where("created_at >= ?", weekAgo).Count(&stats.EventsLast7d).Error; err != nil {
		return nil, err
	}

	type bucket struct {
		Name  string
		Count int64
	}
	var byCategory []bucket
	if err := violations().Select("category AS name, COUNT(*) AS count").
		Where("created_at >= ?", weekAgo).Group("category").Scan(&byCategory).Error; err != nil {
		return nil, err
	}
	for _, b := range byCategory {
		stats.ByCategory[b.Name] = b.Count
	}
	var byAction []bucket
	if err := violations().Select("action AS name, COUNT(*) AS count").
		Where("created_at >= ?", weekAgo).Group("action").Scan(&byAction).Error; err != nil {
		return nil, err
	}
	for _, b := range byAction {
		stats.ByAction[b.Name] = b.Count
	}
	return stats, nil
}

// CleanupOlderThan deletes events created before cutoff.
func (s *EventService) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&models.ThreatEvent{})
	return res.RowsAffected, res.Error
}
