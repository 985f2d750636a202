package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Rotation outcomes recorded on the refresh path.
const (
	OutcomeRotated      = "rotated"
	OutcomeGrace        = "grace"
	OutcomeReuse        = "reuse_detected"
	OutcomeLostRace     = "lost_race"
	OutcomeInvalid      = "invalid"
	OutcomeStoreFailure = "store_failure"
)

// Gate decisions recorded on the login path.
const (
	DecisionAllowed     = "allowed"
	DecisionDenied      = "denied"
	DecisionRateLimited = "rate_limited"
	DecisionLocked      = "locked"
)

// Metrics holds the counters the session core records. A nil *Metrics is safe
// to call, so components never need to guard instrumentation sites.
type Metrics struct {
	rotations    metric.Int64Counter
	gateChecks   metric.Int64Counter
	revocations  metric.Int64Counter
	cacheMisses  metric.Int64Counter
	rehydrations metric.Int64Counter
}

// NewMetrics registers the session counters on the given provider's meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("session-vault")
	m := &Metrics{}
	var err error
	if m.rotations, err = meter.Int64Counter("session_rotations_total",
		metric.WithDescription("Refresh rotation attempts by outcome")); err != nil {
		return nil, err
	}
	if m.gateChecks, err = meter.Int64Counter("login_gate_decisions_total",
		metric.WithDescription("Login gate decisions by outcome")); err != nil {
		return nil, err
	}
	if m.revocations, err = meter.Int64Counter("session_revocations_total",
		metric.WithDescription("Session revocations by reason")); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter("session_cache_misses_total",
		metric.WithDescription("Access validations that missed the session cache")); err != nil {
		return nil, err
	}
	if m.rehydrations, err = meter.Int64Counter("session_cache_rehydrations_total",
		metric.WithDescription("Cache entries rebuilt from the durable store")); err != nil {
		return nil, err
	}
	return m, nil
}

// Rotation records one refresh attempt with its outcome.
func (m *Metrics) Rotation(ctx context.Context, outcome string) {
	if m == nil || m.rotations == nil {
		return
	}
	m.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// GateDecision records one login gate decision.
func (m *Metrics) GateDecision(ctx context.Context, decision string) {
	if m == nil || m.gateChecks == nil {
		return
	}
	m.gateChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// Revocation records one session revocation with its reason.
func (m *Metrics) Revocation(ctx context.Context, reason string) {
	if m == nil || m.revocations == nil {
		return
	}
	m.revocations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// CacheMiss records one access validation that fell through to the durable store.
func (m *Metrics) CacheMiss(ctx context.Context) {
	if m == nil || m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1)
}

// Rehydration records one cache entry rebuilt from the durable store.
func (m *Metrics) Rehydration(ctx context.Context) {
	if m == nil || m.rehydrations == nil {
		return
	}
	m.rehydrations.Add(ctx, 1)
}
