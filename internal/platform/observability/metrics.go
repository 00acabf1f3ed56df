package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/atelier-noir/api"

// Outcomes counts pipeline outcomes on OpenTelemetry counters. A nil *Outcomes is a no-op.
type Outcomes struct {
	settlement  metric.Int64Counter
	attribution metric.Int64Counter
	referral    metric.Int64Counter
}

// NewOutcomes registers the outcome counters on the provided meter, or the global meter when nil.
func NewOutcomes(meter metric.Meter) (*Outcomes, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	settlement, err := meter.Int64Counter("settlement.outcomes",
		metric.WithDescription("Payment verification and settlement results by outcome"))
	if err != nil {
		return nil, err
	}
	attribution, err := meter.Int64Counter("attribution.outcomes",
		metric.WithDescription("Affiliate attribution results by outcome"))
	if err != nil {
		return nil, err
	}
	referral, err := meter.Int64Counter("referral.effects",
		metric.WithDescription("Referral capture side effects by effect and status"))
	if err != nil {
		return nil, err
	}
	return &Outcomes{settlement: settlement, attribution: attribution, referral: referral}, nil
}

// Settlement records a settlement outcome such as "settled" or "invalid_signature".
func (o *Outcomes) Settlement(ctx context.Context, outcome string) {
	if o == nil {
		return
	}
	o.settlement.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Attribution records an attribution outcome.
func (o *Outcomes) Attribution(ctx context.Context, outcome string) {
	if o == nil {
		return
	}
	o.attribution.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ReferralEffect records the completion of a referral capture side effect.
func (o *Outcomes) ReferralEffect(ctx context.Context, effect string, err error) {
	if o == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.referral.Add(ctx, 1, metric.WithAttributes(
		attribute.String("effect", effect),
		attribute.String("status", status),
	))
}
