package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/platform/storage"
	"github.com/atelier-noir/api/internal/services"
)

type stubCheckoutService struct {
	createFn func(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error)
	intentFn func(ctx context.Context, orderID string) (services.CreateOrderResult, error)
	calls    int
}

func (s *stubCheckoutService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	s.calls++
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, errors.New("create not configured")
}

func (s *stubCheckoutService) CreatePaymentIntent(ctx context.Context, orderID string) (services.CreateOrderResult, error) {
	if s.intentFn != nil {
		return s.intentFn(ctx, orderID)
	}
	return services.CreateOrderResult{}, services.ErrCheckoutOrderNotFound
}

type stubSettlementService struct {
	verifyFn  func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.SettlementResult, error)
	alertsFn  func(ctx context.Context, limit int) ([]domain.PaymentAlert, error)
	receiptFn func(ctx context.Context, orderID string) (storage.SignedLink, error)
}

func (s *stubSettlementService) Verify(ctx context.Context, cmd services.VerifyPaymentCommand) (services.SettlementResult, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.SettlementResult{}, services.ErrSettlementUnavailable
}

func (s *stubSettlementService) ListAlerts(ctx context.Context, limit int) ([]domain.PaymentAlert, error) {
	if s.alertsFn != nil {
		return s.alertsFn(ctx, limit)
	}
	return nil, nil
}

func (s *stubSettlementService) ReceiptURL(ctx context.Context, orderID string) (storage.SignedLink, error) {
	if s.receiptFn != nil {
		return s.receiptFn(ctx, orderID)
	}
	return storage.SignedLink{}, services.ErrReceiptsDisabled
}

type stubAttributionService struct {
	outcome services.AttributionOutcome
	calls   []services.AttributionContext
}

func (s *stubAttributionService) Attribute(_ context.Context, attribution services.AttributionContext) services.AttributionOutcome {
	s.calls = append(s.calls, attribution)
	return s.outcome
}

type stubReferralService struct {
	captureFn func(ctx context.Context, req services.CaptureRequest) (services.CaptureDecision, error)
	captures  []services.CaptureRequest

	mu     sync.Mutex
	clicks []string
	visits []services.VisitRecord
}

func (s *stubReferralService) Capture(ctx context.Context, req services.CaptureRequest) (services.CaptureDecision, error) {
	s.captures = append(s.captures, req)
	if s.captureFn != nil {
		return s.captureFn(ctx, req)
	}
	return services.CaptureDecision{Action: services.CaptureIgnored}, nil
}

func (s *stubReferralService) RecordClick(_ context.Context, affiliateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, affiliateID)
	return nil
}

func (s *stubReferralService) RecordVisit(_ context.Context, visit services.VisitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, visit)
	return nil
}

type stubTokenVerifier struct {
	uid string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, token string) (*firebaseauth.Token, error) {
	if token != "valid-token" {
		return nil, errors.New("invalid token")
	}
	return &firebaseauth.Token{UID: s.uid, Claims: map[string]any{"email": "customer@example.com"}}, nil
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v (%s)", err, rr.Body.String())
	}
	return body
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
