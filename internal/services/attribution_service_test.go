package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
)

var attributionNow = time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)

type attributionFixture struct {
	svc         AttributionService
	affiliates  *stubAffiliateRepository
	commissions *stubCommissionRepository
	visits      *stubVisitRepository
	metrics     *outcomeRecorder
}

func newAttributionFixture(t *testing.T) *attributionFixture {
	t.Helper()
	f := &attributionFixture{
		affiliates:  affiliateFixture(),
		commissions: &stubCommissionRepository{},
		visits:      &stubVisitRepository{},
		metrics:     &outcomeRecorder{},
	}
	svc, err := NewAttributionService(AttributionServiceDeps{
		Affiliates:  f.affiliates,
		Commissions: f.commissions,
		Visits:      f.visits,
		Metrics:     f.metrics,
		Clock:       fixedClock(attributionNow),
	})
	if err != nil {
		t.Fatalf("new attribution service: %v", err)
	}
	f.svc = svc
	return f
}

func activeAttribution() *domain.ReferralAttribution {
	return &domain.ReferralAttribution{
		Code:        "MAYA10",
		AffiliateID: "aff_maya",
		CapturedAt:  attributionNow.Add(-48 * time.Hour),
		ExpiresAt:   attributionNow.Add(28 * 24 * time.Hour),
	}
}

func attributedOrder() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		PaymentStatus: domain.PaymentStatusPaid,
		Pricing:       domain.Pricing{Subtotal: 2000, Shipping: 500, Tax: 360, Total: 2860, Currency: "INR"},
	}
}

func TestAttributionServiceAttributesOnce(t *testing.T) {
	f := newAttributionFixture(t)
	f.visits.appended = []domain.ReferralVisit{
		{ID: "v1", Code: "MAYA10"},
		{ID: "v2", Code: "MAYA10"},
	}
	in := AttributionContext{Attribution: activeAttribution(), Order: attributedOrder()}

	first := f.svc.Attribute(context.Background(), in)
	if first.Status != OutcomeAttributed || !first.ClearAttribution {
		t.Fatalf("unexpected outcome %+v", first)
	}
	if first.CommissionID != "com_ord_1" || first.CommissionAmount != 286 {
		t.Fatalf("unexpected commission %+v", first)
	}
	commission := f.commissions.commissions["com_ord_1"]
	if commission.CommissionRate != 10 || commission.OrderTotal != 2860 || commission.Status != domain.CommissionStatusPending {
		t.Fatalf("unexpected stored commission %+v", commission)
	}
	if !f.visits.appended[1].Converted || f.visits.appended[0].Converted {
		t.Fatalf("expected only the latest visit converted: %+v", f.visits.appended)
	}

	second := f.svc.Attribute(context.Background(), in)
	if second.Status != OutcomeAlreadyAttributed || !second.ClearAttribution {
		t.Fatalf("expected already attributed, got %+v", second)
	}
	totals := f.commissions.totals["aff_maya"]
	if totals.Orders != 1 || totals.Sales != 2860 || totals.Commission != 286 {
		t.Fatalf("expected aggregates applied once, got %+v", totals)
	}
	if len(f.visits.conversions) != 1 {
		t.Fatalf("expected a single visit conversion, got %d", len(f.visits.conversions))
	}
	if got := f.metrics.attribution; len(got) != 2 || got[0] != "attributed" || got[1] != "already_attributed" {
		t.Fatalf("unexpected metrics %v", got)
	}
}

func TestAttributionServiceNoAttribution(t *testing.T) {
	f := newAttributionFixture(t)
	outcome := f.svc.Attribute(context.Background(), AttributionContext{Order: attributedOrder()})
	if outcome.Status != OutcomeNoAttribution || !outcome.ClearAttribution {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(f.affiliates.lookups) != 0 {
		t.Fatalf("expected no lookups")
	}
}

func TestAttributionServiceExpiredLeavesAggregatesUnchanged(t *testing.T) {
	f := newAttributionFixture(t)
	expired := activeAttribution()
	expired.ExpiresAt = attributionNow.Add(-time.Minute)

	outcome := f.svc.Attribute(context.Background(), AttributionContext{Attribution: expired, Order: attributedOrder()})
	if outcome.Status != OutcomeExpired || !outcome.ClearAttribution {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(f.commissions.commissions) != 0 || len(f.commissions.totals) != 0 {
		t.Fatalf("expected no commission for expired attribution")
	}
}

func TestAttributionServiceFailuresAreNotErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(f *attributionFixture)
	}{
		{"affiliate no longer approved", func(f *attributionFixture) {
			f.affiliates.affiliates["MAYA10"] = domain.Affiliate{ID: "aff_maya", Status: domain.AffiliateStatusSuspended}
		}},
		{"lookup error", func(f *attributionFixture) { f.affiliates.findErr = errors.New("unavailable") }},
		{"commission store error", func(f *attributionFixture) { f.commissions.err = stubRepoError{unavailable: true} }},
		{"visit conversion error", func(f *attributionFixture) { f.visits.markErr = errors.New("query failed") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAttributionFixture(t)
			tc.mutate(f)
			outcome := f.svc.Attribute(context.Background(), AttributionContext{Attribution: activeAttribution(), Order: attributedOrder()})
			if outcome.Status != OutcomeFailed || !outcome.ClearAttribution {
				t.Fatalf("expected failed outcome with clear, got %+v", outcome)
			}
		})
	}
}

func TestAttributionServiceContentionIsNotAlreadyAttributed(t *testing.T) {
	f := newAttributionFixture(t)
	f.commissions.err = stubRepoError{conflict: true}

	outcome := f.svc.Attribute(context.Background(), AttributionContext{Attribution: activeAttribution(), Order: attributedOrder()})
	if outcome.Status != OutcomeFailed {
		t.Fatalf("expected failed outcome for aborted transaction, got %+v", outcome)
	}
	if outcome.CommissionID != "" {
		t.Fatalf("expected no commission id for an unwritten commission, got %q", outcome.CommissionID)
	}
	if len(f.commissions.commissions) != 0 {
		t.Fatalf("expected nothing recorded, got %v", f.commissions.commissions)
	}
	if got := f.metrics.attribution; len(got) != 1 || got[0] != "failed" {
		t.Fatalf("unexpected metrics %v", got)
	}
}

func TestCommissionAmountRounding(t *testing.T) {
	cases := []struct {
		total int64
		rate  float64
		want  int64
	}{
		{2860, 10, 286},
		{999, 7.5, 75},
		{1, 50, 1},
		{0, 12, 0},
	}
	for _, tc := range cases {
		if got := CommissionAmount(tc.total, tc.rate); got != tc.want {
			t.Fatalf("CommissionAmount(%d, %v) = %d, want %d", tc.total, tc.rate, got, tc.want)
		}
	}
}
