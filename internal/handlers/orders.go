package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/platform/auth"
	"github.com/atelier-noir/api/internal/platform/httpx"
	"github.com/atelier-noir/api/internal/services"
)

const maxOrderRequestBody = 32 * 1024

// OrderHandlers exposes order creation. A Firebase identity is optional; guests may check out.
type OrderHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// NewOrderHandlers constructs order handlers. idempotency may be nil.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, idempotency func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{
		authn:       authn,
		checkout:    checkout,
		idempotency: idempotency,
	}
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.OptionalFirebaseAuth())
	}
	if h.idempotency != nil {
		group = group.With(h.idempotency)
	}
	group.Post("/", h.createOrder)
	group.Post("/{orderId}/payment-intent", h.createPaymentIntent)
}

type orderLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Size      string `json:"size"`
	// Price is accepted for client compatibility and never read.
	Price *float64 `json:"price,omitempty"`
}

type addressRequest struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type createOrderRequest struct {
	Items           []orderLineRequest `json:"items"`
	ShippingAddress addressRequest     `json:"shippingAddress"`
	BillingAddress  *addressRequest    `json:"billingAddress"`
	CustomerEmail   string             `json:"customerEmail"`
	CustomerName    string             `json:"customerName"`
	CustomerPhone   string             `json:"customerPhone"`
}

type orderResponse struct {
	OrderID        string `json:"orderId"`
	GatewayOrderID string `json:"gatewayOrderId"`
	ClientSecret   string `json:"clientSecret,omitempty"`
	Amount         int64  `json:"amount"`
	AmountMinor    int64  `json:"amountMinor"`
	Currency       string `json:"currency"`
	Demo           bool   `json:"demo"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if status, err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	cmd := services.CreateOrderCommand{
		Items:           make([]services.OrderLineInput, 0, len(req.Items)),
		ShippingAddress: req.ShippingAddress.toDomain(),
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderLineInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Size:      item.Size,
		})
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.CustomerUID = identity.UID
	}

	result, err := h.checkout.CreateOrder(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newOrderResponse(result))
}

func (h *OrderHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.CreatePaymentIntent(ctx, orderID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderResponse(result))
}

func newOrderResponse(result services.CreateOrderResult) orderResponse {
	return orderResponse{
		OrderID:        result.Order.ID,
		GatewayOrderID: result.Intent.ID,
		ClientSecret:   result.Intent.ClientSecret,
		Amount:         result.Intent.Amount,
		AmountMinor:    result.Intent.AmountMinor,
		Currency:       result.Intent.Currency,
		Demo:           result.Intent.Demo,
	}
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		Recipient:  a.Recipient,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		validation *services.ValidationError
		notFound   *services.ProductNotFoundError
		stock      *services.InsufficientStockError
		intentErr  *services.PaymentIntentError
	)
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order submission is invalid", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": validation.Fields}))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "order submission is invalid", http.StatusBadRequest))
	case errors.As(err, &notFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product is not available", http.StatusNotFound).
			WithDetails(map[string]any{"productId": notFound.ProductID}))
	case errors.As(err, &stock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "not enough stock for "+stock.Name, http.StatusConflict).
			WithDetails(map[string]any{
				"productId":   stock.ProductID,
				"productName": stock.Name,
				"requested":   stock.Requested,
				"available":   stock.Available,
			}))
	case errors.As(err, &intentErr):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment could not be initiated; retry with the order id", http.StatusBadGateway).
			WithDetails(map[string]any{"orderId": intentErr.OrderID}))
	case errors.Is(err, services.ErrCheckoutOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutOrderNotPending):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_pending", "order is no longer awaiting payment", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	}
}
