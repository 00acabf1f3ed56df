package services

import (
	"context"
	"sync"
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/payments"
	"github.com/atelier-noir/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubProductRepository struct {
	products map[string]domain.Product
	err      error
	calls    []string
}

func (s *stubProductRepository) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	s.calls = append(s.calls, productID)
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, stubRepoError{notFound: true}
	}
	return product, nil
}

type stubOrderRepository struct {
	insertFunc  func(ctx context.Context, order domain.Order) (domain.Order, error)
	getFunc     func(ctx context.Context, orderID string) (domain.Order, error)
	recordFunc  func(ctx context.Context, orderID, gatewayOrderID string, demo bool, now time.Time) error
	settleFunc  func(ctx context.Context, req repositories.SettleRequest) (repositories.SettleResult, error)
	inserted    []domain.Order
	settleCalls int
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	s.inserted = append(s.inserted, order)
	if s.insertFunc != nil {
		return s.insertFunc(ctx, order)
	}
	return order, nil
}

func (s *stubOrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, orderID)
	}
	return domain.Order{}, stubRepoError{notFound: true}
}

func (s *stubOrderRepository) RecordGatewayOrder(ctx context.Context, orderID, gatewayOrderID string, demo bool, now time.Time) error {
	if s.recordFunc != nil {
		return s.recordFunc(ctx, orderID, gatewayOrderID, demo, now)
	}
	return nil
}

func (s *stubOrderRepository) Settle(ctx context.Context, req repositories.SettleRequest) (repositories.SettleResult, error) {
	s.settleCalls++
	if s.settleFunc != nil {
		return s.settleFunc(ctx, req)
	}
	return repositories.SettleResult{}, repositories.ErrOrderNotFound
}

type stubIntentCreator struct {
	createFunc func(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
	requests   []payments.IntentRequest
}

func (s *stubIntentCreator) CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	s.requests = append(s.requests, req)
	if s.createFunc != nil {
		return s.createFunc(ctx, req)
	}
	return payments.Intent{ID: "pi_test", Amount: req.Amount, Currency: req.Currency}, nil
}

type stubAlertRepository struct {
	mu       sync.Mutex
	recorded []domain.PaymentAlert
	err      error
}

func (s *stubAlertRepository) Record(_ context.Context, alert domain.PaymentAlert) (domain.PaymentAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.PaymentAlert{}, s.err
	}
	s.recorded = append(s.recorded, alert)
	return alert, nil
}

func (s *stubAlertRepository) ListRecent(_ context.Context, limit int) ([]domain.PaymentAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if limit > 0 && limit < len(s.recorded) {
		return append([]domain.PaymentAlert(nil), s.recorded[:limit]...), nil
	}
	return append([]domain.PaymentAlert(nil), s.recorded...), nil
}

type stubAffiliateRepository struct {
	mu         sync.Mutex
	affiliates map[string]domain.Affiliate
	findErr    error
	clickErr   error
	lookups    []string
	clicks     map[string]int
}

func (s *stubAffiliateRepository) FindApprovedByCode(_ context.Context, code string) (domain.Affiliate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, code)
	if s.findErr != nil {
		return domain.Affiliate{}, s.findErr
	}
	affiliate, ok := s.affiliates[code]
	if !ok || affiliate.Status != domain.AffiliateStatusApproved {
		return domain.Affiliate{}, stubRepoError{notFound: true}
	}
	return affiliate, nil
}

func (s *stubAffiliateRepository) IncrementClicks(_ context.Context, affiliateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clickErr != nil {
		return s.clickErr
	}
	if s.clicks == nil {
		s.clicks = make(map[string]int)
	}
	s.clicks[affiliateID]++
	return nil
}

func (s *stubAffiliateRepository) clickCount(affiliateID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clicks[affiliateID]
}

// stubCommissionRepository enforces one commission per id and accumulates affiliate totals.
type stubCommissionRepository struct {
	mu          sync.Mutex
	commissions map[string]domain.Commission
	totals      map[string]domain.AffiliateTotals
	err         error
}

func (s *stubCommissionRepository) Record(_ context.Context, commission domain.Commission, totals domain.AffiliateTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.commissions == nil {
		s.commissions = make(map[string]domain.Commission)
		s.totals = make(map[string]domain.AffiliateTotals)
	}
	if _, exists := s.commissions[commission.ID]; exists {
		return repositories.ErrCommissionExists
	}
	s.commissions[commission.ID] = commission
	agg := s.totals[commission.AffiliateID]
	agg.Orders += totals.Orders
	agg.Sales += totals.Sales
	agg.Commission += totals.Commission
	s.totals[commission.AffiliateID] = agg
	return nil
}

type stubVisitRepository struct {
	mu          sync.Mutex
	appended    []domain.ReferralVisit
	conversions []domain.VisitConversion
	appendErr   error
	markErr     error
}

func (s *stubVisitRepository) Append(_ context.Context, visit domain.ReferralVisit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, visit)
	return nil
}

func (s *stubVisitRepository) MarkLatestConverted(_ context.Context, code string, conversion domain.VisitConversion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	s.conversions = append(s.conversions, conversion)
	for i := len(s.appended) - 1; i >= 0; i-- {
		if s.appended[i].Code == code && !s.appended[i].Converted {
			s.appended[i].Converted = true
			s.appended[i].OrderID = conversion.OrderID
			return true, nil
		}
	}
	return false, nil
}

type capturedLog struct {
	event  string
	fields map[string]any
}

type logRecorder struct {
	mu      sync.Mutex
	entries []capturedLog
}

func (l *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, capturedLog{event: event, fields: fields})
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

type outcomeRecorder struct {
	mu          sync.Mutex
	settlement  []string
	attribution []string
	effects     map[string]int
}

func (o *outcomeRecorder) Settlement(_ context.Context, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settlement = append(o.settlement, outcome)
}

func (o *outcomeRecorder) Attribution(_ context.Context, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attribution = append(o.attribution, outcome)
}

func (o *outcomeRecorder) ReferralEffect(_ context.Context, effect string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.effects == nil {
		o.effects = make(map[string]int)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.effects[effect+":"+status]++
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
