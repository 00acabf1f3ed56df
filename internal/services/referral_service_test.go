package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
)

var referralNow = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestReferralService(t *testing.T, affiliates *stubAffiliateRepository, visits *stubVisitRepository) ReferralService {
	t.Helper()
	svc, err := NewReferralService(ReferralServiceDeps{
		Affiliates: affiliates,
		Visits:     visits,
		Clock:      fixedClock(referralNow),
		IDGen:      func() string { return "visit-1" },
	})
	if err != nil {
		t.Fatalf("new referral service: %v", err)
	}
	return svc
}

func affiliateFixture() *stubAffiliateRepository {
	return &stubAffiliateRepository{affiliates: map[string]domain.Affiliate{
		"MAYA10": {ID: "aff_maya", ReferralCode: "MAYA10", Status: domain.AffiliateStatusApproved, CommissionRate: 10},
		"HOLD":   {ID: "aff_hold", ReferralCode: "HOLD", Status: domain.AffiliateStatusSuspended, CommissionRate: 5},
	}}
}

func TestReferralServiceCaptureStoresNewAttribution(t *testing.T) {
	affiliates := affiliateFixture()
	svc := newTestReferralService(t, affiliates, &stubVisitRepository{})

	decision, err := svc.Capture(context.Background(), CaptureRequest{
		Code:        " maya10 ",
		LandingPath: "/collections/silk",
		Referrer:    "https://instagram.com",
		ClientIP:    "203.0.113.7",
		UserAgent:   "test-agent",
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if decision.Action != CaptureStore {
		t.Fatalf("expected store, got %s", decision.Action)
	}
	got := decision.Attribution
	if got.Code != "MAYA10" || got.AffiliateID != "aff_maya" {
		t.Fatalf("unexpected attribution %+v", got)
	}
	if !got.CapturedAt.Equal(referralNow) || !got.ExpiresAt.Equal(referralNow.Add(30*24*time.Hour)) {
		t.Fatalf("unexpected attribution window %v - %v", got.CapturedAt, got.ExpiresAt)
	}
	if decision.Visit == nil || decision.Visit.LandingPath != "/collections/silk" || decision.Visit.ClientIP != "203.0.113.7" {
		t.Fatalf("unexpected visit %+v", decision.Visit)
	}
	if len(affiliates.lookups) != 1 || affiliates.lookups[0] != "MAYA10" {
		t.Fatalf("expected normalised lookup, got %v", affiliates.lookups)
	}
}

func TestReferralServiceCaptureKeepsFirstTouch(t *testing.T) {
	affiliates := affiliateFixture()
	svc := newTestReferralService(t, affiliates, &stubVisitRepository{})
	existing := &domain.ReferralAttribution{
		Code:        "FIRST",
		AffiliateID: "aff_first",
		CapturedAt:  referralNow.Add(-24 * time.Hour),
		ExpiresAt:   referralNow.Add(24 * time.Hour),
	}

	decision, err := svc.Capture(context.Background(), CaptureRequest{Code: "MAYA10", Existing: existing})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if decision.Action != CaptureKeepExisting || decision.Attribution != existing {
		t.Fatalf("expected existing attribution kept, got %+v", decision)
	}
	if len(affiliates.lookups) != 0 {
		t.Fatalf("expected no lookup while an attribution is active")
	}
}

func TestReferralServiceCaptureReplacesExpiredAttribution(t *testing.T) {
	svc := newTestReferralService(t, affiliateFixture(), &stubVisitRepository{})
	expired := &domain.ReferralAttribution{
		Code:        "FIRST",
		AffiliateID: "aff_first",
		ExpiresAt:   referralNow.Add(-time.Second),
	}

	decision, err := svc.Capture(context.Background(), CaptureRequest{Code: "maya10", Existing: expired})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if decision.Action != CaptureStore || decision.Attribution.Code != "MAYA10" {
		t.Fatalf("expected new attribution, got %+v", decision)
	}
}

func TestReferralServiceCaptureIgnoresUnusableCodes(t *testing.T) {
	cases := map[string]*stubAffiliateRepository{
		"UNKNOWN":   affiliateFixture(),
		"HOLD":      affiliateFixture(),
		"bad code!": affiliateFixture(),
		"MAYA10":    {findErr: errors.New("firestore unavailable")},
		"":          affiliateFixture(),
	}
	for code, affiliates := range cases {
		svc := newTestReferralService(t, affiliates, &stubVisitRepository{})
		decision, err := svc.Capture(context.Background(), CaptureRequest{Code: code})
		if err != nil {
			t.Fatalf("%q: capture: %v", code, err)
		}
		if decision.Action != CaptureIgnored || decision.Attribution != nil || decision.Visit != nil {
			t.Fatalf("%q: expected ignored, got %+v", code, decision)
		}
	}
}

func TestReferralServiceRecordVisitHashesIP(t *testing.T) {
	visits := &stubVisitRepository{}
	svc := newTestReferralService(t, affiliateFixture(), visits)

	err := svc.RecordVisit(context.Background(), VisitRecord{
		Code:        "maya10",
		AffiliateID: "aff_maya",
		LandingPath: "/",
		ClientIP:    "203.0.113.7",
		CapturedAt:  referralNow,
	})
	if err != nil {
		t.Fatalf("record visit: %v", err)
	}
	if len(visits.appended) != 1 {
		t.Fatalf("expected one visit, got %d", len(visits.appended))
	}
	visit := visits.appended[0]
	sum := sha256.Sum256([]byte("203.0.113.7"))
	if visit.IPHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected ip hash %q", visit.IPHash)
	}
	if visit.ID != "visit-1" || visit.Code != "MAYA10" || visit.Converted {
		t.Fatalf("unexpected visit %+v", visit)
	}
}

func TestReferralServiceRecordClick(t *testing.T) {
	affiliates := affiliateFixture()
	svc := newTestReferralService(t, affiliates, &stubVisitRepository{})

	if err := svc.RecordClick(context.Background(), "aff_maya"); err != nil {
		t.Fatalf("record click: %v", err)
	}
	if affiliates.clickCount("aff_maya") != 1 {
		t.Fatalf("expected click counted")
	}
	if err := svc.RecordClick(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty affiliate id")
	}
}

func TestReferralEffectsAreIndependentlyObservable(t *testing.T) {
	affiliates := affiliateFixture()
	affiliates.clickErr = errors.New("counter contention")
	visits := &stubVisitRepository{}
	svc := newTestReferralService(t, affiliates, visits)

	decision, err := svc.Capture(context.Background(), CaptureRequest{Code: "MAYA10", ClientIP: "198.51.100.1"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	metrics := &outcomeRecorder{}
	logs := &logRecorder{}
	runner := NewEffectRunner(time.Second, NewEffectLogObserver(logs.log, metrics))

	ctx, cancel := context.WithCancel(context.Background())
	runner.Dispatch(ctx, ReferralEffects(svc, decision)...)
	// Request cancellation must not abort dispatched effects.
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := runner.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if len(visits.appended) != 1 {
		t.Fatalf("expected visit appended despite click failure")
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.effects[EffectClickCounter+":error"] != 1 || metrics.effects[EffectVisitLog+":ok"] != 1 {
		t.Fatalf("unexpected effect metrics %v", metrics.effects)
	}
	if !logs.has("referral.effect_failed") || !logs.has("referral.effect_completed") {
		t.Fatalf("expected both outcomes logged")
	}
}

func TestReferralEffectsSkipNonStoreDecisions(t *testing.T) {
	svc := newTestReferralService(t, affiliateFixture(), &stubVisitRepository{})
	if effects := ReferralEffects(svc, CaptureDecision{Action: CaptureIgnored}); len(effects) != 0 {
		t.Fatalf("expected no effects, got %d", len(effects))
	}
}
