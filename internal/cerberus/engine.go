// Package cerberus is the request validation engine: it combines the block
// registries, the signature matcher and the threat detector into one verdict
// per request.
package cerberus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Wikid82/cerberus/internal/blocklist"
	"github.com/Wikid82/cerberus/internal/config"
	"github.com/Wikid82/cerberus/internal/geoblock"
	"github.com/Wikid82/cerberus/internal/logger"
	"github.com/Wikid82/cerberus/internal/matcher"
	"github.com/Wikid82/cerberus/internal/metrics"
	"github.com/Wikid82/cerberus/internal/models"
	"github.com/Wikid82/cerberus/internal/rulecache"
	"github.com/Wikid82/cerberus/internal/threat"
	"github.com/Wikid82/cerberus/internal/util"
)

const defaultMatchTimeout = 50 * time.Millisecond

// Reasons reported in ValidationResult.Reason.
const (
	ReasonDisabled         = "validation disabled"
	ReasonCountryBlocked   = "country blocked"
	ReasonIPBlocked        = "ip blocked"
	ReasonRulesUnavailable = "rule cache unavailable"
	ReasonViolation        = "signature violation"
	ReasonMonitored        = "signature violation (detect mode)"
)

// Deps are the collaborators of an Engine. Rules is required; everything else
// gets an empty in-memory default when nil.
type Deps struct {
	Rules    *rulecache.Cache
	Blocks   *blocklist.Registry
	Geo      *geoblock.Registry
	Detector *threat.Detector
	Sink     models.EventSink
	Mutator  models.BlockMutator
}

// Engine validates requests. It is safe for concurrent use.
type Engine struct {
	cfg      config.SecurityConfig
	rules    *rulecache.Cache
	blocks   *blocklist.Registry
	geo      *geoblock.Registry
	detector *threat.Detector
	matcher  *matcher.Matcher
	recorder *Recorder
	mutator  models.BlockMutator

	mu          sync.RWMutex
	mode        models.Mode
	resolver    CountryResolver
	onAutoBlock func(models.BlockedIP)

	now func() time.Time
}

// New creates an engine in cfg.Mode. An empty mode means detect.
func New(cfg config.SecurityConfig, deps Deps) *Engine {
	if deps.Blocks == nil {
		deps.Blocks = blocklist.New()
	}
	if deps.Geo == nil {
		deps.Geo = geoblock.New(geoblock.ListMode(cfg.GeoMode))
	}
	if deps.Detector == nil {
		deps.Detector = threat.New()
	}
	if cfg.MatchTimeout <= 0 {
		cfg.MatchTimeout = defaultMatchTimeout
	}
	mode := cfg.Mode
	if mode == "" {
		mode = models.ModeDetect
	}
	return &Engine{
		cfg:      cfg,
		rules:    deps.Rules,
		blocks:   deps.Blocks,
		geo:      deps.Geo,
		detector: deps.Detector,
		matcher:  matcher.New(cfg.MaxInspectBytes),
		recorder: NewRecorder(deps.Sink, cfg.EventQueueSize),
		mutator:  deps.Mutator,
		mode:     mode,
		now:      time.Now,
	}
}

// Mode returns the current enforcement mode.
func (e *Engine) Mode() models.Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetMode switches the enforcement mode at runtime.
func (e *Engine) SetMode(mode models.Mode) {
	e.mu.Lock()
	prev := e.mode
	e.mode = mode
	e.mu.Unlock()
	if prev != mode {
		logger.Component("waf").WithFields(map[string]interface{}{
			"from": prev,
			"to":   mode,
		}).Info("Validation mode changed")
	}
}

// IsEnabled reports whether requests are inspected at all.
func (e *Engine) IsEnabled() bool {
	return e.Mode() != models.ModeOff
}

// OnAutoBlock registers a callback run after every automatic block, e.g. to
// propagate it to other replicas.
func (e *Engine) OnAutoBlock(fn func(models.BlockedIP)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAutoBlock = fn
}

// Blocks returns the engine's IP block registry.
func (e *Engine) Blocks() *blocklist.Registry { return e.blocks }

// Detector returns the engine's threat detector.
func (e *Engine) Detector() *threat.Detector { return e.detector }

// Close flushes pending events. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.recorder.Close()
}

// ValidateRequest returns the verdict for one request. Country and IP blocks
// apply in every enabled mode; signature violations only block in block mode.
func (e *Engine) ValidateRequest(ctx context.Context, req models.ValidationRequest) models.ValidationResult {
	mode := e.Mode()
	if mode == models.ModeOff {
		return models.ValidationResult{Allowed: true, ActionTaken: models.ActionAllow, Reason: ReasonDisabled}
	}
	metrics.IncWAFRequest()
	if req.Timestamp.IsZero() {
		req.Timestamp = e.now()
	}
	req.CountryCode = geoblock.NormalizeCountryCode(req.CountryCode)

	if e.geo.IsCountryBlocked(req.CountryCode) {
		metrics.IncWAFBlocked("geo")
		e.record(&models.ThreatEvent{
			EventType:   models.EventGeoBlocked,
			Severity:    models.SeverityMedium,
			SourceIP:    req.SourceIP,
			Description: fmt.Sprintf("Request from blocked country %s", req.CountryCode),
			Details:     details(map[string]interface{}{"path": req.Path, "method": req.Method}),
			Country:     req.CountryCode,
		}, req)
		return blocked(ReasonCountryBlocked)
	}

	if entry, ok := e.blocks.Lookup(req.SourceIP); ok {
		metrics.IncWAFBlocked("ip")
		e.record(&models.ThreatEvent{
			EventType:   models.EventIPBlocked,
			Severity:    models.SeverityMedium,
			SourceIP:    req.SourceIP,
			Description: fmt.Sprintf("Request from blocked address: %s", entry.Reason),
			Details:     details(map[string]interface{}{"path": req.Path, "method": req.Method, "block_id": entry.ID, "target": entry.Target()}),
			Country:     req.CountryCode,
		}, req)
		return blocked(ReasonIPBlocked)
	}

	snap := e.snapshot()
	if snap == nil {
		if e.cfg.FailClosed {
			metrics.IncWAFBlocked("unavailable")
			logger.Component("waf").Warn("Rule cache unavailable, failing closed")
			return blocked(ReasonRulesUnavailable)
		}
		logger.Component("waf").Warn("Rule cache unavailable, failing open")
		return models.ValidationResult{Allowed: true, ActionTaken: models.ActionAllow, Reason: ReasonRulesUnavailable}
	}

	mctx, cancel := context.WithTimeout(ctx, e.cfg.MatchTimeout)
	violations := e.matcher.Evaluate(mctx, snap, &req)
	cancel()

	e.observe(ctx, mode, snap.ThreatRulesOfType(models.RuleTypeRateLimit), req.SourceIP, req)

	shouldBlock := false
	for _, v := range violations {
		metrics.IncViolation(v.Category)
		if v.Action == models.ActionBlock {
			shouldBlock = true
		}
		e.record(&models.ThreatEvent{
			EventType:   models.EventWAFViolation,
			Severity:    v.Severity,
			SourceIP:    req.SourceIP,
			Description: fmt.Sprintf("WAF rule %s matched (%s)", v.RuleName, v.Category),
			Details: details(map[string]interface{}{
				"rule_id":         v.RuleID,
				"rule_name":       v.RuleName,
				"category":        v.Category,
				"matched_content": v.MatchedContent,
				"action":          v.Action,
				"mode":            mode,
				"path":            req.Path,
				"method":          req.Method,
			}),
			Country:  req.CountryCode,
			Category: v.Category,
			Action:   v.Action,
		}, req)
		e.observe(ctx, mode, snap.ThreatRulesOfType(models.RuleTypeWAFAbuse), req.SourceIP, req)
	}

	result := models.ValidationResult{Allowed: true, ActionTaken: models.ActionAllow, Violations: violations}
	if len(violations) == 0 {
		return result
	}

	fields := map[string]interface{}{
		"mode":       mode,
		"ip":         util.SanitizeForLog(req.SourceIP),
		"path":       util.SanitizeForLog(req.Path),
		"violations": len(violations),
	}
	if shouldBlock && mode == models.ModeBlock {
		metrics.IncWAFBlocked("signature")
		logger.Component("waf").WithFields(fields).WithField("decision", "block").Warn("WAF blocked request")
		result.Allowed = false
		result.ActionTaken = models.ActionBlock
		result.Reason = ReasonViolation
		return result
	}

	metrics.IncWAFMonitored()
	logger.Component("waf").WithFields(fields).WithField("decision", "monitor").Info("WAF monitored request")
	result.ActionTaken = models.ActionLog
	if shouldBlock {
		result.Reason = ReasonMonitored
	} else {
		result.Reason = ReasonViolation
	}
	return result
}

// RecordLoginAttempt feeds a completed authentication into the login based
// threat rules and returns the events it produced. Failures count towards
// brute force (per source address) and credential stuffing (per target
// user); successes are checked for a country change.
func (e *Engine) RecordLoginAttempt(ctx context.Context, attempt models.LoginAttempt) []models.ThreatEvent {
	mode := e.Mode()
	if mode == models.ModeOff {
		return nil
	}
	snap := e.snapshot()
	if snap == nil {
		return nil
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = e.now()
	}
	req := models.ValidationRequest{
		RequestID:   attempt.RequestID,
		SourceIP:    attempt.SourceIP,
		UserID:      attempt.UserID,
		CountryCode: geoblock.NormalizeCountryCode(attempt.CountryCode),
		Timestamp:   attempt.Timestamp,
	}

	var events []models.ThreatEvent
	if !attempt.Success {
		e.record(&models.ThreatEvent{
			EventType:    models.EventLoginFailure,
			Severity:     models.SeverityLow,
			SourceIP:     attempt.SourceIP,
			TargetUserID: attempt.UserID,
			Description:  "Failed login attempt",
			Country:      req.CountryCode,
		}, req)
		events = append(events, e.observe(ctx, mode, snap.ThreatRulesOfType(models.RuleTypeBruteForce), attempt.SourceIP, req)...)
		events = append(events, e.observe(ctx, mode, snap.ThreatRulesOfType(models.RuleTypeCredentialStuffing), attempt.UserID, req)...)
		return events
	}

	prev, elapsed, changed := e.detector.CountryChange(attempt.UserID, req.CountryCode, attempt.Timestamp)
	if !changed {
		return nil
	}
	var travel []models.ThreatRule
	for _, rule := range snap.ThreatRulesOfType(models.RuleTypeImpossibleTravel) {
		if elapsed <= rule.Window() {
			travel = append(travel, rule)
		}
	}
	logger.Component("threat").WithFields(map[string]interface{}{
		"user":    util.SanitizeForLog(attempt.UserID),
		"from":    prev,
		"to":      req.CountryCode,
		"elapsed": elapsed.String(),
	}).Debug("Login country changed")
	return e.observe(ctx, mode, travel, attempt.UserID, req)
}

func (e *Engine) snapshot() *rulecache.Snapshot {
	if e.rules == nil {
		return nil
	}
	return e.rules.Snapshot()
}

// observe records one event for identity under each rule and handles the
// triggers. A triggered window is reset so the next trigger needs a full
// threshold again.
func (e *Engine) observe(ctx context.Context, mode models.Mode, rules []models.ThreatRule, identity string, req models.ValidationRequest) []models.ThreatEvent {
	var events []models.ThreatEvent
	for _, rule := range rules {
		obs := e.detector.Observe(rule, identity, req.Timestamp)
		if !obs.Triggered {
			continue
		}
		e.detector.Reset(rule, identity)
		metrics.IncThreatTrigger(rule.RuleType)

		description := fmt.Sprintf("Threat rule %s triggered: %d events within %d minutes", rule.Name, obs.Count, rule.WindowMinutes)
		if obs.ShouldAutoBlock {
			if mode == models.ModeBlock {
				if entry, ok := e.autoBlock(ctx, rule, req); ok {
					if entry.ExpiresAt != nil {
						description += fmt.Sprintf("; %s blocked until %s", entry.Target(), entry.ExpiresAt.UTC().Format(time.RFC3339))
					} else {
						description += fmt.Sprintf("; %s already blocked permanently", entry.Target())
					}
				}
			} else {
				description += fmt.Sprintf("; would auto-block %s for %s (detect mode)", req.SourceIP, rule.AutoBlockDuration())
			}
		}

		event := &models.ThreatEvent{
			EventType:    rule.RuleType,
			Severity:     rule.Severity,
			SourceIP:     req.SourceIP,
			TargetUserID: req.UserID,
			Description:  description,
			Details: details(map[string]interface{}{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
				"count":     obs.Count,
				"threshold": rule.Threshold,
				"identity":  identity,
				"mode":      mode,
			}),
			Country:   req.CountryCode,
			CreatedAt: e.now(),
		}
		events = append(events, e.record(event, req))

		logger.Component("threat").WithFields(map[string]interface{}{
			"rule":     rule.Name,
			"type":     rule.RuleType,
			"identity": util.SanitizeForLog(identity),
			"count":    obs.Count,
		}).Warn("Threat rule triggered")
	}
	return events
}

// autoBlock persists a time-boxed block for the request's source address and
// loads it into the registry. Repeated blocks extend the existing entry.
func (e *Engine) autoBlock(ctx context.Context, rule models.ThreatRule, req models.ValidationRequest) (models.BlockedIP, bool) {
	expires := e.now().Add(rule.AutoBlockDuration())
	entry := models.BlockedIP{
		IPAddress: req.SourceIP,
		Reason:    fmt.Sprintf("Auto-blocked by threat rule %s", rule.Name),
		BlockedBy: models.BlockedBySystem,
		ExpiresAt: &expires,
	}
	if _, _, err := blocklist.ParseTarget(entry.IPAddress); err != nil {
		logger.Component("blocklist").WithField("ip", util.SanitizeForLog(req.SourceIP)).Warn("Cannot auto-block unparseable address")
		return models.BlockedIP{}, false
	}

	if e.mutator != nil {
		stored, err := e.mutator.InsertOrExtendBlock(ctx, entry)
		if err != nil {
			logger.Component("blocklist").WithError(err).WithField("ip", req.SourceIP).Error("Failed to persist auto-block, blocking in memory only")
		} else if stored != nil {
			entry = *stored
		}
	}
	stored, created, err := e.blocks.InsertOrExtend(entry)
	if err != nil {
		logger.Component("blocklist").WithError(err).WithField("ip", req.SourceIP).Error("Failed to apply auto-block")
		return models.BlockedIP{}, false
	}
	metrics.IncAutoBlock()
	metrics.SetBlockedEntries(e.blocks.Len())

	description := fmt.Sprintf("Auto-blocked %s for %s by threat rule %s", req.SourceIP, rule.AutoBlockDuration(), rule.Name)
	if !created {
		description = fmt.Sprintf("Extended block of %s by threat rule %s", req.SourceIP, rule.Name)
	}
	e.record(&models.ThreatEvent{
		EventType:   models.EventAutoBlock,
		Severity:    rule.Severity,
		SourceIP:    req.SourceIP,
		Description: description,
		Details:     details(map[string]interface{}{"rule_id": rule.ID, "rule_name": rule.Name, "block_id": stored.ID, "created": created}),
		Country:     req.CountryCode,
	}, req)

	e.mu.RLock()
	hook := e.onAutoBlock
	e.mu.RUnlock()
	if hook != nil {
		hook(stored)
	}
	return stored, true
}

// record fills the request derived fields and queues the event. The returned
// copy is taken before the recorder goroutine owns event.
func (e *Engine) record(event *models.ThreatEvent, req models.ValidationRequest) models.ThreatEvent {
	if event.TargetUserID == "" {
		event.TargetUserID = req.UserID
	}
	event.RequestID = req.RequestID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now()
	}
	out := *event
	e.recorder.Record(event)
	return out
}

func blocked(reason string) models.ValidationResult {
	return models.ValidationResult{Allowed: false, ActionTaken: models.ActionBlock, Reason: reason}
}

func details(fields map[string]interface{}) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(b)
}
