package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/platform/storage"
	"github.com/atelier-noir/api/internal/repositories"
)

const (
	alertIDPrefix           = "alert_"
	defaultSideEffectBudget = 10 * time.Second
)

// signatureVerifier abstracts payments.SignatureVerifier for testing.
type signatureVerifier interface {
	Verify(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// settlementRecorder counts settlement outcomes.
type settlementRecorder interface {
	Settlement(ctx context.Context, outcome string)
}

// SettlementServiceDeps wires the dependencies required by the settlement service.
type SettlementServiceDeps struct {
	Orders    repositories.OrderRepository
	Alerts    repositories.PaymentAlertRepository
	Verifier  signatureVerifier
	Policy    repositories.InventoryPolicy
	Publisher OrderEventPublisher
	Receipts  ReceiptArchiver
	Links     ReceiptLinker
	Metrics   settlementRecorder
	Clock     func() time.Time
	IDGen     func() string
	Logger    func(ctx context.Context, event string, fields map[string]any)
	// SideEffectTimeout bounds the post-settlement publish and archive steps.
	SideEffectTimeout time.Duration
}

type settlementService struct {
	orders    repositories.OrderRepository
	alerts    repositories.PaymentAlertRepository
	verifier  signatureVerifier
	policy    repositories.InventoryPolicy
	publisher OrderEventPublisher
	receipts  ReceiptArchiver
	links     ReceiptLinker
	metrics   settlementRecorder
	now       func() time.Time
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
	budget    time.Duration
}

// NewSettlementService constructs a SettlementService validating required dependencies.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	if deps.Orders == nil {
		return nil, errors.New("settlement service: order repository is required")
	}
	if deps.Alerts == nil {
		return nil, errors.New("settlement service: alert repository is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("settlement service: signature verifier is required")
	}

	policy := deps.Policy
	switch policy {
	case "":
		policy = repositories.InventoryPolicyStrict
	case repositories.InventoryPolicyStrict, repositories.InventoryPolicyLenient:
	default:
		return nil, fmt.Errorf("settlement service: unknown inventory policy %q", policy)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	budget := deps.SideEffectTimeout
	if budget <= 0 {
		budget = defaultSideEffectBudget
	}

	return &settlementService{
		orders:    deps.Orders,
		alerts:    deps.Alerts,
		verifier:  deps.Verifier,
		policy:    policy,
		publisher: deps.Publisher,
		receipts:  deps.Receipts,
		links:     deps.Links,
		metrics:   deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
		budget: budget,
	}, nil
}

func (s *settlementService) Verify(ctx context.Context, cmd VerifyPaymentCommand) (SettlementResult, error) {
	cmd.GatewayOrderID = strings.TrimSpace(cmd.GatewayOrderID)
	cmd.GatewayPaymentID = strings.TrimSpace(cmd.GatewayPaymentID)
	cmd.LocalOrderID = strings.TrimSpace(cmd.LocalOrderID)
	cmd.Signature = strings.TrimSpace(cmd.Signature)
	if cmd.GatewayOrderID == "" || cmd.GatewayPaymentID == "" {
		return SettlementResult{}, ErrSettlementInvalidInput
	}

	if !s.verifier.Verify(cmd.GatewayOrderID, cmd.GatewayPaymentID, cmd.Signature) {
		s.logger(ctx, "settlement.invalid_signature", map[string]any{
			"gatewayOrderId":   cmd.GatewayOrderID,
			"gatewayPaymentId": cmd.GatewayPaymentID,
			"localOrderId":     cmd.LocalOrderID,
		})
		s.record(ctx, "invalid_signature")
		return SettlementResult{}, ErrInvalidSignature
	}

	result := SettlementResult{OrderID: cmd.LocalOrderID, PaymentID: cmd.GatewayPaymentID}
	if cmd.LocalOrderID == "" {
		return s.unattributable(ctx, cmd, result, "local order id missing")
	}

	settled, err := s.orders.Settle(ctx, repositories.SettleRequest{
		OrderID:          cmd.LocalOrderID,
		GatewayOrderID:   cmd.GatewayOrderID,
		GatewayPaymentID: cmd.GatewayPaymentID,
		Policy:           s.policy,
		Now:              s.now(),
	})
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotFound) {
			return s.unattributable(ctx, cmd, result, "order not found")
		}
		s.logger(ctx, "settlement.settle_failed", map[string]any{
			"orderId":          cmd.LocalOrderID,
			"gatewayPaymentId": cmd.GatewayPaymentID,
			"error":            err.Error(),
		})
		s.record(ctx, "unavailable")
		return SettlementResult{}, ErrSettlementUnavailable
	}

	order := settled.Order
	result.Order = &order
	fields := map[string]any{
		"orderId":          order.ID,
		"gatewayOrderId":   cmd.GatewayOrderID,
		"gatewayPaymentId": cmd.GatewayPaymentID,
	}
	if recorded := order.Payment.GatewayOrderID; recorded != "" && recorded != cmd.GatewayOrderID {
		s.logger(ctx, "settlement.gateway_order_mismatch", map[string]any{
			"orderId":         order.ID,
			"recordedGateway": recorded,
			"callbackGateway": cmd.GatewayOrderID,
		})
	}

	switch settled.Outcome {
	case repositories.SettleOutcomeAlreadySettled:
		result.AlreadySettled = true
		s.logger(ctx, "settlement.already_settled", fields)
		s.record(ctx, "already_settled")
		return result, nil

	case repositories.SettleOutcomeDuplicatePayment:
		result.Warning = WarningDuplicatePayment
		fields["settledPaymentId"] = order.Payment.GatewayPaymentID
		s.logger(ctx, "settlement.duplicate_payment_alert", fields)
		s.raiseAlert(ctx, domain.PaymentAlertDuplicate, cmd, fmt.Sprintf("order already settled with payment %s", order.Payment.GatewayPaymentID))
		s.record(ctx, "duplicate_payment")
		return result, nil

	case repositories.SettleOutcomeStockShortfall:
		result.Warning = WarningStockShortfall
		fields["shortfalls"] = describeShortfalls(settled.Shortfalls)
		s.logger(ctx, "settlement.stock_shortfall_alert", fields)
		s.raiseAlert(ctx, domain.PaymentAlertStockShortfall, cmd, describeShortfalls(settled.Shortfalls))
		s.record(ctx, "stock_shortfall")

	default:
		s.logger(ctx, "settlement.settled", fields)
		s.record(ctx, "settled")
	}

	s.afterSettlement(ctx, order, settled.Outcome == repositories.SettleOutcomeStockShortfall)
	return result, nil
}

func (s *settlementService) ListAlerts(ctx context.Context, limit int) ([]domain.PaymentAlert, error) {
	alerts, err := s.alerts.ListRecent(ctx, limit)
	if err != nil {
		s.logger(ctx, "settlement.list_alerts_failed", map[string]any{"error": err.Error()})
		return nil, ErrSettlementUnavailable
	}
	return alerts, nil
}

func (s *settlementService) ReceiptURL(ctx context.Context, orderID string) (storage.SignedLink, error) {
	if s.links == nil {
		return storage.SignedLink{}, ErrReceiptsDisabled
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return storage.SignedLink{}, ErrSettlementInvalidInput
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return storage.SignedLink{}, ErrSettlementOrderNotFound
		}
		s.logger(ctx, "settlement.receipt_lookup_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return storage.SignedLink{}, ErrSettlementUnavailable
	}
	if !order.IsPaid() {
		return storage.SignedLink{}, ErrOrderNotPaid
	}
	link, err := s.links.ReceiptURL(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "settlement.receipt_link_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return storage.SignedLink{}, ErrSettlementUnavailable
	}
	return link, nil
}

// unattributable accepts a verified payment that cannot be matched to an order.
func (s *settlementService) unattributable(ctx context.Context, cmd VerifyPaymentCommand, result SettlementResult, detail string) (SettlementResult, error) {
	result.Warning = WarningUnattributablePayment
	s.logger(ctx, "settlement.unattributable_payment_alert", map[string]any{
		"gatewayOrderId":   cmd.GatewayOrderID,
		"gatewayPaymentId": cmd.GatewayPaymentID,
		"localOrderId":     cmd.LocalOrderID,
		"detail":           detail,
	})
	s.raiseAlert(ctx, domain.PaymentAlertUnattributable, cmd, detail)
	s.record(ctx, "unattributable_payment")
	return result, nil
}

func (s *settlementService) raiseAlert(ctx context.Context, kind domain.PaymentAlertKind, cmd VerifyPaymentCommand, detail string) {
	_, err := s.alerts.Record(ctx, domain.PaymentAlert{
		ID:               alertIDPrefix + s.newID(),
		Kind:             kind,
		GatewayOrderID:   cmd.GatewayOrderID,
		GatewayPaymentID: cmd.GatewayPaymentID,
		LocalOrderID:     cmd.LocalOrderID,
		Detail:           detail,
		CreatedAt:        s.now(),
	})
	if err != nil {
		s.logger(ctx, "settlement.alert_record_failed", map[string]any{
			"kind":             string(kind),
			"gatewayPaymentId": cmd.GatewayPaymentID,
			"error":            err.Error(),
		})
	}
}

// afterSettlement publishes and archives the settled order. Failures are logged only.
func (s *settlementService) afterSettlement(ctx context.Context, order domain.Order, shortfall bool) {
	if s.publisher == nil && s.receipts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.budget)
	defer cancel()

	if s.publisher != nil {
		event := newOrderSettledEvent(order, shortfall)
		if id, err := s.publisher.PublishOrderSettled(ctx, event); err != nil {
			s.logger(ctx, "settlement.publish_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		} else {
			s.logger(ctx, "settlement.published", map[string]any{"orderId": order.ID, "messageId": id})
		}
	}
	if s.receipts != nil {
		if object, err := s.receipts.ArchiveReceipt(ctx, order); err != nil {
			s.logger(ctx, "settlement.receipt_archive_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		} else {
			s.logger(ctx, "settlement.receipt_archived", map[string]any{"orderId": order.ID, "object": object})
		}
	}
}

func (s *settlementService) record(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.Settlement(ctx, outcome)
	}
}

func newOrderSettledEvent(order domain.Order, shortfall bool) OrderSettledEvent {
	var count int64
	for _, item := range order.Items {
		count += item.Quantity
	}
	event := OrderSettledEvent{
		OrderID:          order.ID,
		GatewayOrderID:   order.Payment.GatewayOrderID,
		GatewayPaymentID: order.Payment.GatewayPaymentID,
		Status:           string(order.Status),
		Total:            order.Pricing.Total,
		Currency:         order.Pricing.Currency,
		CustomerEmail:    order.Customer.Email,
		ItemCount:        count,
		StockShortfall:   shortfall,
		SettledAt:        order.UpdatedAt,
	}
	if order.Payment.SettledAt != nil {
		event.SettledAt = order.Payment.SettledAt.UTC()
	}
	return event
}

func describeShortfalls(shortfalls []repositories.StockShortfall) string {
	parts := make([]string, 0, len(shortfalls))
	for _, sf := range shortfalls {
		parts = append(parts, fmt.Sprintf("%s requested %d available %d", sf.ProductID, sf.Requested, sf.Available))
	}
	return strings.Join(parts, "; ")
}
