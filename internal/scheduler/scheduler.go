// Package scheduler runs the engine's background jobs on a cron: rule
// refresh, expiry sweep and event retention.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Wikid82/cerberus/internal/blocklist"
	"github.com/Wikid82/cerberus/internal/config"
	"github.com/Wikid82/cerberus/internal/logger"
	"github.com/Wikid82/cerberus/internal/metrics"
	"github.com/Wikid82/cerberus/internal/models"
	"github.com/Wikid82/cerberus/internal/threat"
)

// Refresher reloads the rule cache.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ModeStore returns the persisted enforcement mode override, if any.
type ModeStore interface {
	WAFMode(ctx context.Context) (models.Mode, bool, error)
}

// ModeController is the engine surface the refresh job adjusts.
type ModeController interface {
	Mode() models.Mode
	SetMode(models.Mode)
}

// BlockCleaner deletes expired blocks from persistent storage.
type BlockCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// EventCleaner deletes events older than a cutoff.
type EventCleaner interface {
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deps are the collaborators of the jobs. Nil members disable the part of a
// job that needs them.
type Deps struct {
	Rules    Refresher
	Settings ModeStore
	Engine   ModeController
	Blocks   *blocklist.Registry
	Detector *threat.Detector
	Store    BlockCleaner
	Events   EventCleaner
}

const jobTimeout = 30 * time.Second

// Scheduler owns the cron instance and its three jobs.
type Scheduler struct {
	cfg  config.SecurityConfig
	deps Deps
	cron *cron.Cron
	now  func() time.Time

	mu      sync.Mutex
	running bool
}

// New validates the schedules and registers the jobs. Jobs never overlap with
// themselves; a run still in progress causes the next tick to be skipped.
func New(cfg config.SecurityConfig, deps Deps) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{}),
		cron.SkipIfStillRunning(cronLogger{}),
	), cron.WithLogger(cronLogger{}))

	s := &Scheduler{cfg: cfg, deps: deps, cron: c, now: time.Now}

	if cfg.RefreshInterval > 0 && deps.Rules != nil {
		if _, err := c.AddFunc(every(cfg.RefreshInterval), s.job("refresh", s.RunRefresh)); err != nil {
			return nil, fmt.Errorf("schedule refresh: %w", err)
		}
	}
	if cfg.SweepInterval > 0 {
		if _, err := c.AddFunc(every(cfg.SweepInterval), s.job("sweep", s.RunSweep)); err != nil {
			return nil, fmt.Errorf("schedule sweep: %w", err)
		}
	}
	if cfg.RetentionSchedule != "" && cfg.EventRetentionDays > 0 && deps.Events != nil {
		if _, err := c.AddFunc(cfg.RetentionSchedule, s.job("retention", s.RunRetention)); err != nil {
			return nil, fmt.Errorf("schedule retention %q: %w", cfg.RetentionSchedule, err)
		}
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	logger.Component("scheduler").WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")
}

// Stop halts the cron and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		logger.Component("scheduler").Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

// RunRefresh reloads the rule cache and applies a stored mode override.
func (s *Scheduler) RunRefresh(ctx context.Context) error {
	if s.deps.Rules != nil {
		if err := s.deps.Rules.Refresh(ctx); err != nil {
			return err
		}
	}
	if s.deps.Settings == nil || s.deps.Engine == nil {
		return nil
	}
	mode, ok, err := s.deps.Settings.WAFMode(ctx)
	if err != nil {
		return fmt.Errorf("read mode override: %w", err)
	}
	if ok && mode != s.deps.Engine.Mode() {
		s.deps.Engine.SetMode(mode)
	}
	return nil
}

// RunSweep removes expired blocks from the registry and the store and drops
// idle detector windows.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	fields := map[string]interface{}{}
	if s.deps.Blocks != nil {
		fields["registry_expired"] = s.deps.Blocks.SweepExpired()
		metrics.SetBlockedEntries(s.deps.Blocks.Len())
	}
	if s.deps.Detector != nil {
		fields["idle_windows"] = s.deps.Detector.Prune()
	}
	if s.deps.Store != nil {
		n, err := s.deps.Store.CleanupExpired(ctx)
		if err != nil {
			return fmt.Errorf("cleanup expired blocks: %w", err)
		}
		fields["store_expired"] = n
	}
	logger.Component("scheduler").WithFields(fields).Debug("Sweep finished")
	return nil
}

// RunRetention deletes events older than the configured retention.
func (s *Scheduler) RunRetention(ctx context.Context) error {
	if s.deps.Events == nil || s.cfg.EventRetentionDays <= 0 {
		return nil
	}
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.EventRetentionDays)
	n, err := s.deps.Events.CleanupOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup events: %w", err)
	}
	logger.Component("scheduler").WithFields(map[string]interface{}{
		"deleted": n,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Event retention cleanup finished")
	return nil
}

func (s *Scheduler) job(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			logger.Component("scheduler").WithField("job", name).WithError(err).Error("Scheduled job failed")
		}
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's own messages into logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Component("cron").WithFields(kv(keysAndValues)).Debug(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Component("cron").WithFields(kv(keysAndValues)).WithError(err).Error(msg)
}

func kv(pairs []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return fields
}
