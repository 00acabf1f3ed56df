package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-noir/api/internal/platform/httpx"
	"github.com/atelier-noir/api/internal/services"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 200
)

// InternalHandlers serves operator endpoints. Callers must be authenticated by OIDC middleware.
type InternalHandlers struct {
	settlement services.SettlementService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(settlement services.SettlementService) *InternalHandlers {
	return &InternalHandlers{settlement: settlement}
}

// Routes registers internal endpoints under the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/payment-alerts", h.listAlerts)
	r.Get("/orders/{orderId}/receipt", h.receiptURL)
}

type paymentAlertResponse struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	LocalOrderID     string `json:"localOrderId,omitempty"`
	Detail           string `json:"detail,omitempty"`
	CreatedAt        string `json:"createdAt"`
}

type receiptLinkResponse struct {
	OrderID   string `json:"orderId"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *InternalHandlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := defaultAlertLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(parsed, maxAlertLimit)
	}

	alerts, err := h.settlement.ListAlerts(ctx, limit)
	if err != nil {
		writeSettlementError(ctx, w, err)
		return
	}
	items := make([]paymentAlertResponse, 0, len(alerts))
	for _, alert := range alerts {
		items = append(items, paymentAlertResponse{
			ID:               alert.ID,
			Kind:             string(alert.Kind),
			GatewayOrderID:   alert.GatewayOrderID,
			GatewayPaymentID: alert.GatewayPaymentID,
			LocalOrderID:     alert.LocalOrderID,
			Detail:           alert.Detail,
			CreatedAt:        formatTime(alert.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *InternalHandlers) receiptURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "settlement service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	link, err := h.settlement.ReceiptURL(ctx, orderID)
	if err != nil {
		writeSettlementError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, receiptLinkResponse{
		OrderID:   orderID,
		URL:       link.URL,
		ExpiresAt: formatTime(link.ExpiresAt),
	})
}
