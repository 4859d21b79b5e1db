package cerberus_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Wikid82/cerberus/internal/blocklist"
	"github.com/Wikid82/cerberus/internal/cerberus"
	"github.com/Wikid82/cerberus/internal/config"
	"github.com/Wikid82/cerberus/internal/geoblock"
	"github.com/Wikid82/cerberus/internal/models"
	"github.com/Wikid82/cerberus/internal/rulecache"
)

type countingSource struct {
	signatures []models.SignatureRule
	threats    []models.ThreatRule
	blocked    []models.BlockedIP
	geo        []models.GeoBlockRule
	loads      atomic.Int32
}

func (s *countingSource) LoadEnabledSignatureRules(context.Context) ([]models.SignatureRule, error) {
	s.loads.Add(1)
	return s.signatures, nil
}

func (s *countingSource) LoadEnabledThreatRules(context.Context) ([]models.ThreatRule, error) {
	s.loads.Add(1)
	return s.threats, nil
}

func (s *countingSource) LoadBlockedIPs(context.Context) ([]models.BlockedIP, error) {
	s.loads.Add(1)
	return s.blocked, nil
}

func (s *countingSource) LoadGeoBlockRules(context.Context) ([]models.GeoBlockRule, error) {
	s.loads.Add(1)
	return s.geo, nil
}

type memorySink struct {
	mu     sync.Mutex
	events []models.ThreatEvent
	fail   bool
}

func (s *memorySink) RecordEvent(_ context.Context, event *models.ThreatEvent) error {
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *memorySink) ofType(eventType string) []models.ThreatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ThreatEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type recordingMutator struct {
	mu     sync.Mutex
	blocks map[string]models.BlockedIP
	calls  int
}

func (m *recordingMutator) InsertOrExtendBlock(_ context.Context, block models.BlockedIP) (*models.BlockedIP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.blocks == nil {
		m.blocks = make(map[string]models.BlockedIP)
	}
	if existing, ok := m.blocks[block.Target()]; ok {
		block = blocklist.Merge(existing, block)
	} else {
		block.ID = "block-" + block.Target()
	}
	m.blocks[block.Target()] = block
	return &block, nil
}

type harness struct {
	engine  *cerberus.Engine
	source  *countingSource
	sink    *memorySink
	mutator *recordingMutator
}

// flush stops the engine so every queued event has reached the sink.
func (h *harness) flush() { h.engine.Close() }

func newHarness(t *testing.T, mode models.Mode, src *countingSource, tweak ...func(*config.SecurityConfig)) *harness {
	t.Helper()
	cfg := config.SecurityConfig{Mode: mode, GeoMode: "deny"}
	for _, fn := range tweak {
		fn(&cfg)
	}
	blocks := blocklist.New()
	geo := geoblock.New(geoblock.ListMode(cfg.GeoMode))
	cache := rulecache.New(src, blocks, geo)
	require.NoError(t, cache.Refresh(context.Background()))
	src.loads.Store(0)

	h := &harness{source: src, sink: &memorySink{}, mutator: &recordingMutator{}}
	h.engine = cerberus.New(cfg, cerberus.Deps{
		Rules:   cache,
		Blocks:  blocks,
		Geo:     geo,
		Sink:    h.sink,
		Mutator: h.mutator,
	})
	t.Cleanup(h.engine.Close)
	return h
}

func hours(h int) *int { return &h }

func defaultSignatures() []models.SignatureRule {
	return []models.SignatureRule{
		{ID: "r1", Name: "sqli_union_select", Category: models.CategorySQLInjection, Pattern: `(?i)(union\s+(all\s+)?select)`, Severity: models.SeverityCritical, Enabled: true, Priority: 10, Action: models.ActionBlock},
		{ID: "r2", Name: "xss_script_tag", Category: models.CategoryXSS, Pattern: `(?i)(<script[^>]*>)`, Severity: models.SeverityHigh, Enabled: true, Priority: 20, Action: models.ActionBlock},
		{ID: "r3", Name: "scanner_user_agent", Category: models.CategoryScanner, Pattern: `(nikto|sqlmap|nmap)`, Severity: models.SeverityLow, Enabled: true, Priority: 90, Action: models.ActionLog},
	}
}

func bruteForceRule() models.ThreatRule {
	return models.ThreatRule{
		ID: "t1", Name: "login_brute_force", RuleType: models.RuleTypeBruteForce, Enabled: true,
		Severity: models.SeverityHigh, Threshold: 5, WindowMinutes: 5, Action: models.ActionBlock,
		AutoBlockDurationHours: hours(1),
	}
}

func sqliRequest(ip string) models.ValidationRequest {
	return models.ValidationRequest{
		SourceIP: ip,
		Method:   "GET",
		Path:     "/api/search",
		Query:    "q=1 UNION SELECT password FROM users",
	}
}
