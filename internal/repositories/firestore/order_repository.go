package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/atelier-noir/api/internal/domain"
	pfirestore "github.com/atelier-noir/api/internal/platform/firestore"
	"github.com/atelier-noir/api/internal/repositories"
)

// settleTxTimeout covers the order read plus one product read per line.
const settleTxTimeout = 20 * time.Second

// OrderRepository stores orders and runs the settlement transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	products *pfirestore.Collection[productDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
		products: pfirestore.NewCollection[productDocument](provider, productsCollection, nil),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order insert: id is required")
	}
	if err := r.orders.Create(ctx, order.ID, newOrderDocument(order)); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.toDomain(orderID), nil
}

func (r *OrderRepository) RecordGatewayOrder(ctx context.Context, orderID, gatewayOrderID string, demo bool, now time.Time) error {
	return r.orders.Update(ctx, orderID, []firestore.Update{
		{Path: "payment.gatewayOrderId", Value: gatewayOrderID},
		{Path: "payment.demo", Value: demo},
		{Path: "updatedAt", Value: now.UTC()},
	})
}

// Settle applies a verified payment. All reads happen before any write so the whole
// settlement is one atomic commit; a retried attempt recomputes the result from scratch.
func (r *OrderRepository) Settle(ctx context.Context, req repositories.SettleRequest) (repositories.SettleResult, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return repositories.SettleResult{}, errors.New("order settle: order id is required")
	}
	now := req.Now.UTC()
	policy := req.Policy
	if policy == "" {
		policy = repositories.InventoryPolicyStrict
	}

	var result repositories.SettleResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.SettleResult{}

		orderRef, err := r.orders.Doc(ctx, req.OrderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if pfirestore.IsNotFoundStatus(err) {
				return repositories.ErrOrderNotFound
			}
			return err
		}
		orderDoc, err := r.orders.Decode(snap)
		if err != nil {
			return err
		}
		order := orderDoc.toDomain(req.OrderID)

		if order.IsPaid() {
			result.Order = order
			result.Outcome = repositories.SettleOutcomeDuplicatePayment
			if order.Payment.GatewayPaymentID == req.GatewayPaymentID {
				result.Outcome = repositories.SettleOutcomeAlreadySettled
			}
			return nil
		}

		lines := order.StockLines()
		refs := make([]*firestore.DocumentRef, len(lines))
		for i, line := range lines {
			if refs[i], err = r.products.Doc(ctx, line.ProductID); err != nil {
				return err
			}
		}

		shortfalls, err := r.checkStock(tx, refs, lines, policy)
		if err != nil {
			return err
		}
		result.Shortfalls = shortfalls

		status := domain.OrderStatusProcessing
		if len(result.Shortfalls) > 0 {
			status = domain.OrderStatusOnHold
		} else {
			for i, line := range lines {
				if err := tx.Update(refs[i], []firestore.Update{
					{Path: "inventory", Value: firestore.Increment(-line.Quantity)},
					{Path: "updatedAt", Value: now},
				}); err != nil {
					return err
				}
			}
		}

		settledAt := now
		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "status", Value: string(status)},
			{Path: "paymentStatus", Value: string(domain.PaymentStatusPaid)},
			{Path: "payment.gatewayOrderId", Value: req.GatewayOrderID},
			{Path: "payment.gatewayPaymentId", Value: req.GatewayPaymentID},
			{Path: "payment.settledAt", Value: settledAt},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}

		order.Status = status
		order.PaymentStatus = domain.PaymentStatusPaid
		order.Payment.GatewayOrderID = req.GatewayOrderID
		order.Payment.GatewayPaymentID = req.GatewayPaymentID
		order.Payment.SettledAt = &settledAt
		order.UpdatedAt = now

		result.Order = order
		result.Outcome = repositories.SettleOutcomeSettled
		if len(result.Shortfalls) > 0 {
			result.Outcome = repositories.SettleOutcomeStockShortfall
		}
		return nil
	}, pfirestore.WithTxTimeout(settleTxTimeout))
	if err != nil {
		if errors.Is(err, repositories.ErrOrderNotFound) {
			return repositories.SettleResult{}, repositories.ErrOrderNotFound
		}
		return repositories.SettleResult{}, pfirestore.WrapError("orders.settle", err)
	}
	return result, nil
}

// checkStock reads every product and reports the lines that cannot be committed. A missing
// product counts as zero stock under both policies; only the strict policy compares
// quantities.
func (r *OrderRepository) checkStock(tx *firestore.Transaction, refs []*firestore.DocumentRef, lines []domain.StockLine, policy repositories.InventoryPolicy) ([]repositories.StockShortfall, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	snaps, err := tx.GetAll(refs)
	if err != nil {
		return nil, err
	}
	var shortfalls []repositories.StockShortfall
	for i, snap := range snaps {
		var available int64
		if snap.Exists() {
			if policy != repositories.InventoryPolicyStrict {
				continue
			}
			doc, err := r.products.Decode(snap)
			if err != nil {
				return nil, err
			}
			available = doc.Inventory
		}
		if available < lines[i].Quantity {
			shortfalls = append(shortfalls, repositories.StockShortfall{
				ProductID: lines[i].ProductID,
				Requested: lines[i].Quantity,
				Available: available,
			})
		}
	}
	return shortfalls, nil
}

