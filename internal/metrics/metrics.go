package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	wafRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_waf_requests_total",
		Help: "Total number of requests evaluated by WAF",
	})
	wafBlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cerberus_waf_blocked_total",
		Help: "Total number of requests blocked, by reason (signature, ip, geo, fail_closed)",
	}, []string{"reason"})
	wafMonitoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_waf_monitored_total",
		Help: "Total number of requests with violations that were logged but not blocked",
	})
	wafViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cerberus_waf_violations_total",
		Help: "Total number of signature rule matches, by category",
	}, []string{"category"})
	ruleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_waf_rule_errors_total",
		Help: "Total number of signature rule evaluations skipped because of an error",
	})
	threatTriggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cerberus_threat_triggers_total",
		Help: "Total number of threat rule triggers, by rule type",
	}, []string{"rule_type"})
	autoBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_auto_blocks_total",
		Help: "Total number of automatic IP blocks inserted or extended",
	})
	eventSinkFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_event_sink_failures_total",
		Help: "Total number of threat events the sink failed to record",
	})
	eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cerberus_events_dropped_total",
		Help: "Total number of threat events dropped because the queue was full",
	})
	ruleRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cerberus_rule_refresh_total",
		Help: "Total number of rule cache refreshes, by result",
	}, []string{"result"})
	activeSignatureRules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cerberus_active_signature_rules",
		Help: "Number of enabled signature rules in the published snapshot",
	})
	blockedEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cerberus_blocked_entries",
		Help: "Number of IP and CIDR entries held by the block registry",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		wafRequestsTotal, wafBlockedTotal, wafMonitoredTotal, wafViolationsTotal, ruleErrorsTotal,
		threatTriggersTotal, autoBlocksTotal, eventSinkFailuresTotal, eventsDroppedTotal,
		ruleRefreshTotal, activeSignatureRules, blockedEntries,
	)
}

// IncWAFRequest increments the evaluated requests counter.
func IncWAFRequest() { wafRequestsTotal.Inc() }

// IncWAFBlocked increments the blocked requests counter.
func IncWAFBlocked(reason string) { wafBlockedTotal.WithLabelValues(reason).Inc() }

// IncWAFMonitored increments the monitored requests counter.
func IncWAFMonitored() { wafMonitoredTotal.Inc() }

// IncViolation increments the violation counter for a category.
func IncViolation(category string) { wafViolationsTotal.WithLabelValues(category).Inc() }

// IncRuleError increments the skipped rule evaluation counter.
func IncRuleError() { ruleErrorsTotal.Inc() }

// IncThreatTrigger increments the trigger counter for a threat rule type.
func IncThreatTrigger(ruleType string) { threatTriggersTotal.WithLabelValues(ruleType).Inc() }

// IncAutoBlock increments the auto-block counter.
func IncAutoBlock() { autoBlocksTotal.Inc() }

// IncEventSinkFailure increments the sink failure counter.
func IncEventSinkFailure() { eventSinkFailuresTotal.Inc() }

// IncEventDropped increments the dropped event counter.
func IncEventDropped() { eventsDroppedTotal.Inc() }

// IncRuleRefresh increments the refresh counter with result "ok" or "error".
func IncRuleRefresh(result string) { ruleRefreshTotal.WithLabelValues(result).Inc() }

// SetActiveSignatureRules records the size of the published rule snapshot.
func SetActiveSignatureRules(n int) { activeSignatureRules.Set(float64(n)) }

// SetBlockedEntries records the size of the block registry.
func SetBlockedEntries(n int) { blockedEntries.Set(float64(n)) }
