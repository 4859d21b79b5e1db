package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/cerberus/internal/blocklist"
	"github.com/Wikid82/cerberus/internal/models"
)

var (
	ErrInvalidIPAddress = errors.New("invalid IP address or CIDR range")
	ErrAlreadyBlocked   = errors.New("address is already blocked")
	ErrBlockNotFound    = errors.New("block not found")
)

// BlockRequest describes a manual block.
type BlockRequest struct {
	Target    string // single address or CIDR range
	Reason    string
	BlockedBy string
	Duration  time.Duration // ignored when Permanent
	Permanent bool
}

// BlockService manages blocked addresses and ranges.
type BlockService struct {
	db   *gorm.DB
	hook invalidation
	now  func() time.Time
}

// NewBlockService returns a BlockService using the provided DB.
func NewBlockService(db *gorm.DB) *BlockService {
	return &BlockService{db: db, now: utcNow}
}

// SetInvalidator registers the hook run after mutations.
func (s *BlockService) SetInvalidator(fn Invalidator) { s.hook.set(fn) }

// Block stores a manual block. A target that is already actively blocked is
// rejected with ErrAlreadyBlocked. A non-permanent block without a duration
// lasts until it is removed.
func (s *BlockService) Block(ctx context.Context, req BlockRequest) (*models.BlockedIP, error) {
	entry, err := canonicalEntry(req.Target)
	if err != nil {
		return nil, err
	}
	entry.Reason = strings.TrimSpace(req.Reason)
	if entry.Reason == "" {
		entry.Reason = "Manually blocked"
	}
	entry.BlockedBy = strings.TrimSpace(req.BlockedBy)
	if entry.BlockedBy == "" {
		entry.BlockedBy = "admin"
	}
	entry.IsPermanent = req.Permanent
	if !req.Permanent && req.Duration > 0 {
		exp := s.now().Add(req.Duration)
		entry.ExpiresAt = &exp
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findActive(tx, entry)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyBlocked, entry.Target())
		}
		entry.ID = uuid.NewString()
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	s.hook.run(ctx)
	return &entry, nil
}

// InsertOrExtendBlock stores an automatic block. When the target is already
// actively blocked the existing entry is extended instead, so repeated calls
// never create duplicates.
func (s *BlockService) InsertOrExtendBlock(ctx context.Context, block models.BlockedIP) (*models.BlockedIP, error) {
	entry, err := canonicalEntry(block.Target())
	if err != nil {
		return nil, err
	}
	entry.Reason = block.Reason
	entry.BlockedBy = block.BlockedBy
	if entry.BlockedBy == "" {
		entry.BlockedBy = models.BlockedBySystem
	}
	entry.IsPermanent = block.IsPermanent
	entry.ExpiresAt = utcPtr(block.ExpiresAt)

	var stored models.BlockedIP
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findActive(tx, entry)
		if err != nil {
			return err
		}
		if existing != nil {
			stored = blocklist.Merge(*existing, entry)
			return tx.Save(&stored).Error
		}
		entry.ID = uuid.NewString()
		stored = entry
		return tx.Create(&stored).Error
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Unblock removes every entry for an address or range.
func (s *BlockService) Unblock(ctx context.Context, target string) error {
	entry, err := canonicalEntry(target)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("ip_address = ? AND cidr_range = ?", entry.IPAddress, entry.CIDRRange).
		Delete(&models.BlockedIP{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, entry.Target())
	}
	s.hook.run(ctx)
	return nil
}

// List returns blocks, newest first. activeOnly hides expired entries.
func (s *BlockService) List(ctx context.Context, activeOnly bool) ([]models.BlockedIP, error) {
	var blocks []models.BlockedIP
	q := s.db.WithContext(ctx).Order("created_at desc")
	if activeOnly {
		q = activeScope(q, s.now())
	}
	err := q.Find(&blocks).Error
	return blocks, err
}

// CountActive returns the number of blocks currently in force.
func (s *BlockService) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := activeScope(s.db.WithContext(ctx).Model(&models.BlockedIP{}), s.now()).Count(&n).Error
	return n, err
}

// CleanupExpired deletes non-permanent blocks whose expiry has passed.
func (s *BlockService) CleanupExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("is_permanent = ? AND expires_at IS NOT NULL AND expires_at <= ?", false, s.now()).
		Delete(&models.BlockedIP{})
	return res.RowsAffected, res.Error
}

func (s *BlockService) findActive(tx *gorm.DB, entry models.BlockedIP) (*models.BlockedIP, error) {
	var candidates []models.BlockedIP
	if err := tx.Where("ip_address = ? AND cidr_range = ?", entry.IPAddress, entry.CIDRRange).
		Order("created_at asc").Find(&candidates).Error; err != nil {
		return nil, err
	}
	now := s.now()
	for i := range candidates {
		if candidates[i].IsActive(now) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func activeScope(q *gorm.DB, now time.Time) *gorm.DB {
	return q.Where("is_permanent = ? OR expires_at IS NULL OR expires_at > ?", true, now)
}

// SQLite compares timestamps as text, so everything is stored in UTC.
func utcNow() time.Time { return time.Now().UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// canonicalEntry parses target and returns an entry with exactly one of
// IPAddress or CIDRRange set, in canonical form.
func canonicalEntry(target string) (models.BlockedIP, error) {
	addr, prefix, err := blocklist.ParseTarget(target)
	if err != nil {
		return models.BlockedIP{}, fmt.Errorf("%w: %q", ErrInvalidIPAddress, target)
	}
	if prefix.IsValid() {
		return models.BlockedIP{CIDRRange: prefix.String()}, nil
	}
	return models.BlockedIP{IPAddress: addr.String()}, nil
}
