// Package bootstrap assembles the engine and its collaborators from
// configuration and a database handle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/Wikid82/cerberus/internal/blocklist"
	"github.com/Wikid82/cerberus/internal/cerberus"
	"github.com/Wikid82/cerberus/internal/config"
	"github.com/Wikid82/cerberus/internal/geoblock"
	"github.com/Wikid82/cerberus/internal/geoip"
	"github.com/Wikid82/cerberus/internal/logger"
	"github.com/Wikid82/cerberus/internal/metrics"
	"github.com/Wikid82/cerberus/internal/models"
	"github.com/Wikid82/cerberus/internal/rulecache"
	"github.com/Wikid82/cerberus/internal/scheduler"
	"github.com/Wikid82/cerberus/internal/services"
)

const publishTimeout = 5 * time.Second

// Runtime holds a fully wired engine.
type Runtime struct {
	Store       *services.Store
	Rules       *rulecache.Cache
	Engine      *cerberus.Engine
	Scheduler   *scheduler.Scheduler
	Alerts      *services.AlertService
	Broadcaster *services.BlockBroadcaster

	resolver *geoip.Resolver

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// New builds the runtime and performs the first rule load. A failed first
// load is logged and the engine starts without rules, which the fail-open or
// fail-closed policy then governs.
func New(ctx context.Context, cfg config.Config, db *gorm.DB) (*Runtime, error) {
	store := services.NewStore(db)
	blocks := blocklist.New()
	geo := geoblock.New(geoblock.ListMode(cfg.Security.GeoMode))
	cache := rulecache.New(store, blocks, geo)

	alerts := services.NewAlertService(cfg.Alerts)
	var sink models.EventSink = store
	if alerts.Enabled() {
		sink = services.NewAlertingSink(store, alerts)
		cache.OnRefreshError(alerts.NotifyOutage)
	}

	engine := cerberus.New(cfg.Security, cerberus.Deps{
		Rules:   cache,
		Blocks:  blocks,
		Geo:     geo,
		Sink:    sink,
		Mutator: store,
	})

	rt := &Runtime{
		Store:  store,
		Rules:  cache,
		Engine: engine,
		Alerts: alerts,
	}

	if cfg.Security.GeoIPDatabase != "" {
		resolver, err := geoip.Open(cfg.Security.GeoIPDatabase)
		if err != nil {
			engine.Close()
			return nil, err
		}
		rt.resolver = resolver
		engine.SetCountryResolver(resolver)
	}

	if b := services.NewBlockBroadcaster(cfg.Redis); b != nil {
		rt.Broadcaster = b
		engine.OnAutoBlock(func(block models.BlockedIP) {
			pctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := b.Publish(pctx, block); err != nil {
				logger.Component("broadcast").WithError(err).Warn("Failed to publish auto-block")
			}
		})
	}

	sched, err := scheduler.New(cfg.Security, scheduler.Deps{
		Rules:    cache,
		Settings: store.Settings,
		Engine:   engine,
		Blocks:   blocks,
		Detector: engine.Detector(),
		Store:    store.Blocks,
		Events:   store.Events,
	})
	if err != nil {
		rt.release()
		return nil, err
	}
	rt.Scheduler = sched

	if err := sched.RunRefresh(ctx); err != nil {
		logger.Component("bootstrap").WithError(err).Error("Initial rule load failed")
	}
	store.SetInvalidator(cache.Refresh)

	logger.Component("bootstrap").WithFields(map[string]interface{}{
		"mode":      engine.Mode(),
		"geo_mode":  geo.Mode(),
		"alerts":    alerts.Enabled(),
		"broadcast": rt.Broadcaster != nil,
		"geoip":     rt.resolver != nil,
	}).Info("Cerberus engine ready")
	return rt, nil
}

// Start launches the background jobs and, when Redis is configured, the
// subscription that applies blocks announced by other replicas.
func (rt *Runtime) Start() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started || rt.closed {
		return
	}
	rt.started = true
	rt.Scheduler.Start()

	if rt.Broadcaster == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		err := rt.Broadcaster.Subscribe(ctx, rt.applyRemoteBlock)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Component("broadcast").WithError(err).Error("Block subscription ended")
		}
	}()
}

func (rt *Runtime) applyRemoteBlock(block models.BlockedIP) {
	stored, created, err := rt.Engine.Blocks().InsertOrExtend(block)
	if err != nil {
		logger.Component("broadcast").WithError(err).Warn("Ignoring invalid remote block")
		return
	}
	metrics.SetBlockedEntries(rt.Engine.Blocks().Len())
	logger.Component("broadcast").WithFields(map[string]interface{}{
		"target":  stored.Target(),
		"created": created,
	}).Info("Applied block from another replica")
}

// Close stops the jobs, flushes pending events and releases connections.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	cancel := rt.cancel
	rt.mu.Unlock()

	var errs []error
	if err := rt.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if cancel != nil {
		cancel()
	}
	rt.wg.Wait()
	if err := rt.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (rt *Runtime) release() error {
	rt.Engine.Close()
	var errs []error
	if rt.Broadcaster != nil {
		if err := rt.Broadcaster.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := rt.resolver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close geoip: %w", err))
	}
	return errors.Join(errs...)
}
