package services

import (
	"context"
	"errors"
	"math"
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/repositories"
)

const commissionIDPrefix = "com_"

// attributionRecorder counts attribution outcomes.
type attributionRecorder interface {
	Attribution(ctx context.Context, outcome string)
}

// AttributionServiceDeps wires the dependencies required by the attribution service.
type AttributionServiceDeps struct {
	Affiliates  repositories.AffiliateRepository
	Commissions repositories.CommissionRepository
	Visits      repositories.VisitRepository
	Metrics     attributionRecorder
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type attributionService struct {
	affiliates  repositories.AffiliateRepository
	commissions repositories.CommissionRepository
	visits      repositories.VisitRepository
	metrics     attributionRecorder
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewAttributionService constructs an AttributionService validating required dependencies.
func NewAttributionService(deps AttributionServiceDeps) (AttributionService, error) {
	if deps.Affiliates == nil {
		return nil, errors.New("attribution service: affiliate repository is required")
	}
	if deps.Commissions == nil {
		return nil, errors.New("attribution service: commission repository is required")
	}
	if deps.Visits == nil {
		return nil, errors.New("attribution service: visit repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &attributionService{
		affiliates:  deps.Affiliates,
		commissions: deps.Commissions,
		visits:      deps.Visits,
		metrics:     deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CommissionID returns the deterministic commission id for an order.
func CommissionID(orderID string) string {
	return commissionIDPrefix + orderID
}

// CommissionAmount rounds total × rate% half away from zero.
func CommissionAmount(total int64, rate float64) int64 {
	return int64(math.Round(float64(total) * rate / 100))
}

func (s *attributionService) Attribute(ctx context.Context, in AttributionContext) AttributionOutcome {
	outcome := s.attribute(ctx, in)
	outcome.ClearAttribution = true
	if s.metrics != nil {
		s.metrics.Attribution(ctx, string(outcome.Status))
	}
	return outcome
}

func (s *attributionService) attribute(ctx context.Context, in AttributionContext) AttributionOutcome {
	attribution := in.Attribution
	if attribution == nil || attribution.Code == "" {
		return AttributionOutcome{Status: OutcomeNoAttribution}
	}

	now := s.now()
	order := in.Order
	fields := map[string]any{"orderId": order.ID, "code": attribution.Code}
	if !attribution.ActiveAt(now) {
		fields["expiresAt"] = attribution.ExpiresAt
		s.logger(ctx, "attribution.expired_skipped", fields)
		return AttributionOutcome{Status: OutcomeExpired}
	}
	if order.ID == "" {
		s.logger(ctx, "attribution.failed", map[string]any{"code": attribution.Code, "error": "order id missing"})
		return AttributionOutcome{Status: OutcomeFailed}
	}

	affiliate, err := s.affiliates.FindApprovedByCode(ctx, attribution.Code)
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "attribution.affiliate_lookup_failed", fields)
		return AttributionOutcome{Status: OutcomeFailed}
	}
	if attribution.AffiliateID != "" && attribution.AffiliateID != affiliate.ID {
		fields["cookieAffiliateId"] = attribution.AffiliateID
		fields["affiliateId"] = affiliate.ID
		s.logger(ctx, "attribution.affiliate_mismatch", fields)
	}

	total := order.Pricing.Total
	amount := CommissionAmount(total, affiliate.CommissionRate)
	commission := domain.Commission{
		ID:               CommissionID(order.ID),
		AffiliateID:      affiliate.ID,
		ReferralCode:     attribution.Code,
		OrderID:          order.ID,
		OrderTotal:       total,
		CommissionRate:   affiliate.CommissionRate,
		CommissionAmount: amount,
		Status:           domain.CommissionStatusPending,
		CreatedAt:        now,
	}
	totals := domain.AffiliateTotals{Orders: 1, Sales: total, Commission: amount}

	if err := s.commissions.Record(ctx, commission, totals); err != nil {
		if errors.Is(err, repositories.ErrCommissionExists) {
			s.logger(ctx, "attribution.already_attributed", fields)
			return AttributionOutcome{Status: OutcomeAlreadyAttributed, CommissionID: commission.ID}
		}
		fields["error"] = err.Error()
		s.logger(ctx, "attribution.commission_failed", fields)
		return AttributionOutcome{Status: OutcomeFailed}
	}

	marked, err := s.visits.MarkLatestConverted(ctx, attribution.Code, domain.VisitConversion{
		OrderID:          order.ID,
		OrderTotal:       total,
		CommissionAmount: amount,
		ConvertedAt:      now,
	})
	if err != nil {
		fields["commissionId"] = commission.ID
		fields["error"] = err.Error()
		s.logger(ctx, "attribution.visit_conversion_failed", fields)
		return AttributionOutcome{Status: OutcomeFailed, CommissionID: commission.ID, CommissionAmount: amount}
	}

	s.logger(ctx, "attribution.attributed", map[string]any{
		"orderId":          order.ID,
		"code":             attribution.Code,
		"affiliateId":      affiliate.ID,
		"commissionId":     commission.ID,
		"commissionAmount": amount,
		"visitConverted":   marked,
	})
	return AttributionOutcome{Status: OutcomeAttributed, CommissionID: commission.ID, CommissionAmount: amount}
}
