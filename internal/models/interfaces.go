package models

import "context"

// RuleSource loads the enabled configuration the engine evaluates against.
type RuleSource interface {
	LoadEnabledSignatureRules(ctx context.Context) ([]SignatureRule, error)
	LoadEnabledThreatRules(ctx context.Context) ([]ThreatRule, error)
	LoadBlockedIPs(ctx context.Context) ([]BlockedIP, error)
	LoadGeoBlockRules(ctx context.Context) ([]GeoBlockRule, error)
}

// EventSink durably records threat events. Failures are non-fatal to callers.
type EventSink interface {
	RecordEvent(ctx context.Context, event *ThreatEvent) error
}

// BlockMutator persists automatic blocks. Inserting a block for an address that
// is already actively blocked extends the existing entry instead of adding one.
type BlockMutator interface {
	InsertOrExtendBlock(ctx context.Context, block BlockedIP) (*BlockedIP, error)
}
