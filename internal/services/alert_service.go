package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"
	"golang.org/x/time/rate"

	"github.com/Wikid82/cerberus/internal/config"
	"github.com/Wikid82/cerberus/internal/logger"
	"github.com/Wikid82/cerberus/internal/models"
	"github.com/Wikid82/cerberus/internal/util"
)

const (
	defaultAlertsPerMinute = 10
	outageAlertInterval    = 15 * time.Minute
)

// AlertService forwards high-severity threat events and rule store outages
// to shoutrrr destinations (Discord, Slack, Telegram, generic webhooks, ...).
// Sending is rate limited so an attack cannot flood the channels.
type AlertService struct {
	urls        []string
	minSeverity string
	limiter     *rate.Limiter
	outage      *rate.Limiter
	send        func(url, message string) error

	mu      sync.Mutex
	dropped int
}

// NewAlertService returns an AlertService for cfg. Without URLs it is a no-op.
func NewAlertService(cfg config.AlertConfig) *AlertService {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = defaultAlertsPerMinute
	}
	minSeverity := strings.ToUpper(cfg.MinSeverity)
	if !models.IsValidSeverity(minSeverity) {
		minSeverity = models.SeverityHigh
	}
	return &AlertService{
		urls:        cfg.URLs,
		minSeverity: minSeverity,
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		outage:      rate.NewLimiter(rate.Every(outageAlertInterval), 1),
		send:        shoutrrr.Send,
	}
}

// Enabled reports whether any destination is configured.
func (a *AlertService) Enabled() bool {
	return a != nil && len(a.urls) > 0
}

// NotifyEvent sends an alert for event when it is severe enough and the rate
// limit allows it. It reports whether an alert went out.
func (a *AlertService) NotifyEvent(event *models.ThreatEvent) bool {
	if !a.Enabled() || !alertable(event) || !models.SeverityAtLeast(event.Severity, a.minSeverity) {
		return false
	}
	if !a.limiter.Allow() {
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		return false
	}

	a.mu.Lock()
	suppressed := a.dropped
	a.dropped = 0
	a.mu.Unlock()

	msg := fmt.Sprintf("[Cerberus] %s %s from %s: %s",
		event.Severity, event.EventType, event.SourceIP, util.SanitizeForLog(event.Description))
	if event.Country != "" {
		msg += fmt.Sprintf(" (country %s)", event.Country)
	}
	if suppressed > 0 {
		msg += fmt.Sprintf(" [%d alerts suppressed]", suppressed)
	}
	return a.broadcast(msg)
}

// NotifyOutage reports a failed rule refresh. At most one outage alert is
// sent per interval.
func (a *AlertService) NotifyOutage(err error) {
	if !a.Enabled() || !a.outage.Allow() {
		return
	}
	a.broadcast(fmt.Sprintf("[Cerberus] Rule store unavailable, serving last known rules: %v", err))
}

func (a *AlertService) broadcast(msg string) bool {
	sent := false
	for _, url := range a.urls {
		if err := a.send(url, msg); err != nil {
			logger.Component("alerts").WithError(err).Warn("Failed to send alert")
			continue
		}
		sent = true
	}
	return sent
}

// alertable filters out events that repeat for every request of an already
// blocked client.
func alertable(event *models.ThreatEvent) bool {
	switch event.EventType {
	case models.EventIPBlocked, models.EventGeoBlocked, models.EventLoginFailure:
		return false
	}
	return true
}

// AlertingSink stores events in the next sink and forwards severe ones to an
// AlertService.
type AlertingSink struct {
	next   models.EventSink
	alerts *AlertService
}

// NewAlertingSink wraps next. A nil or disabled alert service passes events
// straight through.
func NewAlertingSink(next models.EventSink, alerts *AlertService) *AlertingSink {
	return &AlertingSink{next: next, alerts: alerts}
}

// RecordEvent stores the event, then alerts. Storage errors are returned
// after the alert so an outage of the store does not silence alerts.
func (s *AlertingSink) RecordEvent(ctx context.Context, event *models.ThreatEvent) error {
	err := s.next.RecordEvent(ctx, event)
	s.alerts.NotifyEvent(event)
	return err
}
