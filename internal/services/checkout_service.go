package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/payments"
	"github.com/atelier-noir/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"
	// maxLineQuantity bounds a single cart line.
	maxLineQuantity = 1000
)

// intentCreator abstracts payments.IntentAdapter for testing.
type intentCreator interface {
	CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Products repositories.ProductRepository
	Orders   repositories.OrderRepository
	Intents  intentCreator
	Pricing  PricingRules
	Clock    func() time.Time
	IDGen    func() string
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	intents  intentCreator
	pricing  PricingRules
	sanitize textSanitizer
	now      func() time.Time
	newID    func() string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Intents == nil {
		return nil, errors.New("checkout service: intent adapter is required")
	}
	if strings.TrimSpace(deps.Pricing.Currency) == "" {
		return nil, errors.New("checkout service: currency is required")
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

	pricing := deps.Pricing
	pricing.Currency = strings.ToUpper(strings.TrimSpace(pricing.Currency))

	return &checkoutService{
		products: deps.Products,
		orders:   deps.Orders,
		intents:  deps.Intents,
		pricing:  pricing,
		sanitize: newTextSanitizer(),
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	cmd = s.normalise(cmd)
	if err := validateOrderCommand(cmd); err != nil {
		return CreateOrderResult{}, err
	}

	items, err := s.quoteItems(ctx, cmd.Items)
	if err != nil {
		return CreateOrderResult{}, err
	}

	pricing, err := s.pricing.Price(items)
	if err != nil {
		return CreateOrderResult{}, err
	}

	billing := cmd.ShippingAddress
	if cmd.BillingAddress != nil && !cmd.BillingAddress.IsZero() {
		billing = *cmd.BillingAddress
	}

	now := s.now()
	order := domain.Order{
		ID: orderIDPrefix + s.newID(),
		Customer: domain.Customer{
			UID:   cmd.CustomerUID,
			Name:  cmd.CustomerName,
			Email: cmd.CustomerEmail,
			Phone: cmd.CustomerPhone,
		},
		Items:           items,
		Pricing:         pricing,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  billing,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	order, err = s.orders.Insert(ctx, order)
	if err != nil {
		s.logger(ctx, "checkout.order_insert_failed", map[string]any{"error": err.Error()})
		return CreateOrderResult{}, ErrCheckoutUnavailable
	}
	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderId": order.ID,
		"total":   order.Pricing.Total,
		"items":   len(order.Items),
	})

	return s.requestIntent(ctx, order)
}

func (s *checkoutService) CreatePaymentIntent(ctx context.Context, orderID string) (CreateOrderResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CreateOrderResult{}, ErrCheckoutInvalidInput
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return CreateOrderResult{}, ErrCheckoutOrderNotFound
		}
		s.logger(ctx, "checkout.order_lookup_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return CreateOrderResult{}, ErrCheckoutUnavailable
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		return CreateOrderResult{}, ErrCheckoutOrderNotPending
	}
	return s.requestIntent(ctx, order)
}

func (s *checkoutService) requestIntent(ctx context.Context, order domain.Order) (CreateOrderResult, error) {
	intent, err := s.intents.CreateIntent(ctx, payments.IntentRequest{
		OrderID:       order.ID,
		Amount:        order.Pricing.Total,
		Currency:      order.Pricing.Currency,
		CustomerEmail: order.Customer.Email,
	})
	if err != nil {
		s.logger(ctx, "checkout.intent_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return CreateOrderResult{Order: order}, &PaymentIntentError{OrderID: order.ID, Err: err}
	}

	if err := s.orders.RecordGatewayOrder(ctx, order.ID, intent.ID, intent.Demo, s.now()); err != nil {
		s.logger(ctx, "checkout.gateway_order_record_failed", map[string]any{
			"orderId":        order.ID,
			"gatewayOrderId": intent.ID,
			"error":          err.Error(),
		})
	} else {
		order.Payment.GatewayOrderID = intent.ID
		order.Payment.Demo = intent.Demo
	}
	return CreateOrderResult{Order: order, Intent: intent}, nil
}

// quoteItems freezes catalog prices. Quantities of lines sharing a product are summed for
// the stock check.
func (s *checkoutService) quoteItems(ctx context.Context, lines []OrderLineInput) ([]domain.OrderItem, error) {
	requested := make(map[string]int64, len(lines))
	for _, line := range lines {
		sum, ok := addAmounts(requested[line.ProductID], line.Quantity)
		if !ok {
			return nil, ErrCheckoutInvalidInput
		}
		requested[line.ProductID] = sum
	}

	catalog := make(map[string]domain.Product, len(requested))
	for _, line := range lines {
		if _, seen := catalog[line.ProductID]; seen {
			continue
		}
		product, err := s.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, &ProductNotFoundError{ProductID: line.ProductID}
			}
			s.logger(ctx, "checkout.product_lookup_failed", map[string]any{"productId": line.ProductID, "error": err.Error()})
			return nil, ErrCheckoutUnavailable
		}
		if !product.Active {
			return nil, &ProductNotFoundError{ProductID: line.ProductID}
		}
		if qty := requested[line.ProductID]; product.Inventory < qty {
			return nil, &InsufficientStockError{
				ProductID: product.ID,
				Name:      product.Name,
				Requested: qty,
				Available: product.Inventory,
			}
		}
		catalog[line.ProductID] = product
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		product := catalog[line.ProductID]
		lineTotal, ok := mulAmounts(product.Price, line.Quantity)
		if !ok {
			return nil, ErrCheckoutInvalidInput
		}
		items = append(items, domain.OrderItem{
			ProductID: product.ID,
			Size:      line.Size,
			Name:      product.Name,
			Image:     product.PrimaryImage(),
			UnitPrice: product.Price,
			Quantity:  line.Quantity,
			LineTotal: lineTotal,
		})
	}
	return items, nil
}

func (s *checkoutService) normalise(cmd CreateOrderCommand) CreateOrderCommand {
	items := make([]OrderLineInput, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		items = append(items, OrderLineInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Size:      s.sanitize.clean(item.Size),
		})
	}
	cmd.Items = items
	cmd.CustomerName = s.sanitize.clean(cmd.CustomerName)
	cmd.CustomerEmail = strings.ToLower(strings.TrimSpace(cmd.CustomerEmail))
	cmd.CustomerPhone = s.sanitize.clean(cmd.CustomerPhone)
	cmd.CustomerUID = strings.TrimSpace(cmd.CustomerUID)
	cmd.ShippingAddress = s.sanitize.address(cmd.ShippingAddress)
	if cmd.BillingAddress != nil {
		billing := s.sanitize.address(*cmd.BillingAddress)
		cmd.BillingAddress = &billing
	}
	return cmd
}

func validateOrderCommand(cmd CreateOrderCommand) error {
	verr := &ValidationError{}
	if len(cmd.Items) == 0 {
		verr.add("items", "at least one item is required")
	}
	for _, item := range cmd.Items {
		if item.ProductID == "" {
			verr.add("items.productId", "product id is required")
		}
		switch {
		case item.Quantity <= 0:
			verr.add("items.quantity", "quantity must be positive")
		case item.Quantity > maxLineQuantity:
			verr.add("items.quantity", fmt.Sprintf("quantity must not exceed %d", maxLineQuantity))
		}
	}
	if cmd.CustomerName == "" {
		verr.add("customerName", "name is required")
	}
	if cmd.CustomerPhone == "" {
		verr.add("customerPhone", "phone is required")
	}
	if cmd.CustomerEmail == "" {
		verr.add("customerEmail", "email is required")
	} else if _, err := mail.ParseAddress(cmd.CustomerEmail); err != nil {
		verr.add("customerEmail", "email is invalid")
	}
	validateAddress(verr, "shippingAddress", cmd.ShippingAddress)
	if cmd.BillingAddress != nil && !cmd.BillingAddress.IsZero() {
		validateAddress(verr, "billingAddress", *cmd.BillingAddress)
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func validateAddress(verr *ValidationError, prefix string, addr domain.Address) {
	if addr.Line1 == "" {
		verr.add(prefix+".line1", "address line is required")
	}
	if addr.City == "" {
		verr.add(prefix+".city", "city is required")
	}
	if addr.PostalCode == "" {
		verr.add(prefix+".postalCode", "postal code is required")
	}
	if addr.Country == "" {
		verr.add(prefix+".country", "country is required")
	}
}
