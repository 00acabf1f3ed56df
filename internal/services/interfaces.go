package services

import (
	"context"
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/payments"
	"github.com/atelier-noir/api/internal/platform/storage"
)

// CheckoutService prices carts into pending orders and requests payment intents for them.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	// CreatePaymentIntent re-issues an intent for an order that is still awaiting payment.
	CreatePaymentIntent(ctx context.Context, orderID string) (CreateOrderResult, error)
}

// SettlementService verifies gateway callbacks and settles orders.
type SettlementService interface {
	Verify(ctx context.Context, cmd VerifyPaymentCommand) (SettlementResult, error)
	ListAlerts(ctx context.Context, limit int) ([]domain.PaymentAlert, error)
	// ReceiptURL issues a short-lived download link for a settled order's archived receipt.
	ReceiptURL(ctx context.Context, orderID string) (storage.SignedLink, error)
}

// ReferralService decides referral captures and performs their side effects.
type ReferralService interface {
	Capture(ctx context.Context, req CaptureRequest) (CaptureDecision, error)
	RecordClick(ctx context.Context, affiliateID string) error
	RecordVisit(ctx context.Context, visit VisitRecord) error
}

// AttributionService turns a paid order and its referral attribution into a commission.
type AttributionService interface {
	Attribute(ctx context.Context, attribution AttributionContext) AttributionOutcome
}

// OrderEventPublisher announces settled orders to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderSettled(ctx context.Context, event OrderSettledEvent) (string, error)
}

// ReceiptArchiver stores a durable receipt for a settled order.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, order domain.Order) (string, error)
}

// ReceiptLinker signs retrieval URLs for archived receipts.
type ReceiptLinker interface {
	ReceiptURL(ctx context.Context, orderID string) (storage.SignedLink, error)
}

// OrderLineInput is one requested cart line. Any client-side price is never read.
type OrderLineInput struct {
	ProductID string
	Quantity  int64
	Size      string
}

// CreateOrderCommand is the checkout submission.
type CreateOrderCommand struct {
	Items           []OrderLineInput
	ShippingAddress domain.Address
	BillingAddress  *domain.Address
	CustomerEmail   string
	CustomerName    string
	CustomerPhone   string
	// CustomerUID is set when the request carried a verified identity.
	CustomerUID string
}

// CreateOrderResult pairs the persisted order with its payment intent.
type CreateOrderResult struct {
	Order  domain.Order
	Intent payments.Intent
}

// VerifyPaymentCommand is the gateway callback relayed by the client.
type VerifyPaymentCommand struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	LocalOrderID     string
}

// SettlementWarning flags a verified payment that did not settle cleanly.
type SettlementWarning string

const (
	WarningUnattributablePayment SettlementWarning = "unattributable_payment"
	WarningStockShortfall        SettlementWarning = "stock_shortfall"
	WarningDuplicatePayment      SettlementWarning = "duplicate_payment"
)

// SettlementResult reports a successful verification.
type SettlementResult struct {
	OrderID        string
	PaymentID      string
	AlreadySettled bool
	Warning        SettlementWarning
	// Order is populated whenever the order exists.
	Order *domain.Order
}

// Fresh reports whether this call settled the order.
func (r SettlementResult) Fresh() bool {
	return r.Order != nil && !r.AlreadySettled && r.Warning != WarningDuplicatePayment
}

// OrderSettledEvent is published after a fresh settlement.
type OrderSettledEvent struct {
	OrderID          string    `json:"orderId"`
	GatewayOrderID   string    `json:"gatewayOrderId"`
	GatewayPaymentID string    `json:"gatewayPaymentId"`
	Status           string    `json:"status"`
	Total            int64     `json:"total"`
	Currency         string    `json:"currency"`
	CustomerEmail    string    `json:"customerEmail"`
	ItemCount        int64     `json:"itemCount"`
	StockShortfall   bool      `json:"stockShortfall"`
	SettledAt        time.Time `json:"settledAt"`
}

// CaptureRequest describes a page navigation carrying a referral token.
type CaptureRequest struct {
	Code        string
	Existing    *domain.ReferralAttribution
	LandingPath string
	Referrer    string
	ClientIP    string
	UserAgent   string
}

// CaptureAction is what the HTTP layer should do with the attribution cookie.
type CaptureAction string

const (
	// CaptureKeepExisting leaves an active first-touch attribution in place.
	CaptureKeepExisting CaptureAction = "keep_existing"
	// CaptureIgnored drops an unknown, unapproved or unresolvable code.
	CaptureIgnored CaptureAction = "ignored"
	// CaptureStore writes the new attribution.
	CaptureStore CaptureAction = "store"
)

// CaptureDecision is returned by ReferralService.Capture.
type CaptureDecision struct {
	Action      CaptureAction
	Attribution *domain.ReferralAttribution
	// Visit is populated for CaptureStore and feeds RecordVisit.
	Visit *VisitRecord
}

// VisitRecord is the raw visit captured at the HTTP edge.
type VisitRecord struct {
	Code        string
	AffiliateID string
	LandingPath string
	Referrer    string
	ClientIP    string
	UserAgent   string
	CapturedAt  time.Time
}

// AttributionContext carries the client-held attribution alongside the paid order.
type AttributionContext struct {
	Attribution *domain.ReferralAttribution
	Order       domain.Order
}

// AttributionStatus classifies an attribution attempt.
type AttributionStatus string

const (
	OutcomeNoAttribution     AttributionStatus = "no_attribution"
	OutcomeExpired           AttributionStatus = "expired"
	OutcomeAlreadyAttributed AttributionStatus = "already_attributed"
	OutcomeAttributed        AttributionStatus = "attributed"
	OutcomeFailed            AttributionStatus = "failed"
)

// AttributionOutcome is the terminal result of Attribute.
type AttributionOutcome struct {
	Status           AttributionStatus
	CommissionID     string
	CommissionAmount int64
	// ClearAttribution is always true: the client attribution is consumed by any terminal outcome.
	ClearAttribution bool
}
