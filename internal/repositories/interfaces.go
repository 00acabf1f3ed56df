package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
)

// ErrOrderNotFound is returned by OrderRepository.Settle when the order document does not exist.
var ErrOrderNotFound = errors.New("repositories: order not found")

// ErrCommissionExists is returned by CommissionRepository.Record when the order already has a commission.
var ErrCommissionExists = errors.New("repositories: commission already exists")

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalog products for pricing and stock checks.
type ProductRepository interface {
	// GetProduct returns a RepositoryError with IsNotFound when the product does not exist.
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// InventoryPolicy selects how settlement commits stock.
type InventoryPolicy string

const (
	// InventoryPolicyStrict reads stock inside the settlement transaction and decrements nothing
	// when any line would go negative.
	InventoryPolicyStrict InventoryPolicy = "strict"
	// InventoryPolicyLenient applies relative decrements and tolerates negative stock. Products
	// missing from the catalog are still reported as shortfalls.
	InventoryPolicyLenient InventoryPolicy = "lenient"
)

// SettleRequest describes a verified payment to apply to an order.
type SettleRequest struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Policy           InventoryPolicy
	Now              time.Time
}

// SettleOutcome classifies what the settlement transaction did.
type SettleOutcome string

const (
	SettleOutcomeSettled          SettleOutcome = "settled"
	SettleOutcomeAlreadySettled   SettleOutcome = "already_settled"
	SettleOutcomeDuplicatePayment SettleOutcome = "duplicate_payment"
	SettleOutcomeStockShortfall   SettleOutcome = "stock_shortfall"
)

// StockShortfall names a product whose stock could not cover the settled quantity.
type StockShortfall struct {
	ProductID string
	Requested int64
	Available int64
}

// SettleResult reports the settlement outcome and the order as persisted afterwards.
type SettleResult struct {
	Outcome    SettleOutcome
	Order      domain.Order
	Shortfalls []StockShortfall
}

// OrderRepository persists checkout orders.
type OrderRepository interface {
	// Insert writes a new order in one durable write. The caller assigns the id.
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	// RecordGatewayOrder stores the gateway intent id issued for a pending order.
	RecordGatewayOrder(ctx context.Context, orderID, gatewayOrderID string, demo bool, now time.Time) error
	// Settle marks the order paid and commits stock atomically. Only a missing order yields
	// ErrOrderNotFound; every other failure is a RepositoryError.
	Settle(ctx context.Context, req SettleRequest) (SettleResult, error)
}

// AffiliateRepository resolves referral partners and their click counters.
type AffiliateRepository interface {
	// FindApprovedByCode returns a RepositoryError with IsNotFound for unknown or unapproved codes.
	FindApprovedByCode(ctx context.Context, code string) (domain.Affiliate, error)
	IncrementClicks(ctx context.Context, affiliateID string) error
}

// CommissionRepository records commissions and the matching affiliate aggregates.
type CommissionRepository interface {
	// Record creates the commission and applies totals to its affiliate in one transaction.
	// An existing commission with the same id yields ErrCommissionExists. Contention that outlasts
	// the transaction retries is reported as a RepositoryError, never as ErrCommissionExists.
	Record(ctx context.Context, commission domain.Commission, totals domain.AffiliateTotals) error
}

// VisitRepository stores captured referral visits.
type VisitRepository interface {
	Append(ctx context.Context, visit domain.ReferralVisit) error
	// MarkLatestConverted flags the newest unconverted visit for code. It reports false when
	// no such visit exists.
	MarkLatestConverted(ctx context.Context, code string, conversion domain.VisitConversion) (bool, error)
}

// PaymentAlertRepository keeps operational alerts raised during settlement.
type PaymentAlertRepository interface {
	Record(ctx context.Context, alert domain.PaymentAlert) (domain.PaymentAlert, error)
	ListRecent(ctx context.Context, limit int) ([]domain.PaymentAlert, error)
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
