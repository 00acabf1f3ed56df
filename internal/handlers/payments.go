package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/platform/httpx"
	"github.com/atelier-noir/api/internal/platform/signedcookie"
	"github.com/atelier-noir/api/internal/services"
)

const maxVerifyRequestBody = 8 * 1024

// PaymentHandlers relays gateway callbacks to settlement and, on success, referral attribution.
type PaymentHandlers struct {
	settlement  services.SettlementService
	attribution services.AttributionService
	cookie      *signedcookie.Codec
}

// NewPaymentHandlers constructs payment handlers. attribution and cookie may be nil when
// referrals are disabled.
func NewPaymentHandlers(settlement services.SettlementService, attribution services.AttributionService, cookie *signedcookie.Codec) *PaymentHandlers {
	return &PaymentHandlers{
		settlement:  settlement,
		attribution: attribution,
		cookie:      cookie,
	}
}

// Routes registers payment endpoints under the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/verify", h.verify)
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
	LocalOrderID     string `json:"localOrderId"`
}

type verifyPaymentResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"orderId,omitempty"`
	PaymentID      string `json:"paymentId"`
	AlreadySettled bool   `json:"alreadySettled,omitempty"`
	Warning        string `json:"warning,omitempty"`
}

func (h *PaymentHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "payment verification unavailable", http.StatusServiceUnavailable))
		return
	}

	var req verifyPaymentRequest
	if status, err := decodeJSONBody(r, maxVerifyRequestBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	result, err := h.settlement.Verify(ctx, services.VerifyPaymentCommand{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		LocalOrderID:     req.LocalOrderID,
	})
	if err != nil {
		writeSettlementError(ctx, w, err)
		return
	}

	if result.Order != nil && (result.Fresh() || result.AlreadySettled) {
		h.attribute(w, r, *result.Order)
	}

	httpx.WriteJSON(w, http.StatusOK, verifyPaymentResponse{
		Success:        true,
		OrderID:        result.OrderID,
		PaymentID:      result.PaymentID,
		AlreadySettled: result.AlreadySettled,
		Warning:        string(result.Warning),
	})
}

// attribute must run before the response status is written so the cookie can be cleared.
func (h *PaymentHandlers) attribute(w http.ResponseWriter, r *http.Request, order domain.Order) {
	if h.attribution == nil || h.cookie == nil {
		return
	}
	var attribution domain.ReferralAttribution
	if err := h.cookie.Read(r, &attribution); err != nil {
		if errors.Is(err, signedcookie.ErrInvalid) {
			h.cookie.Clear(w)
		}
		return
	}
	outcome := h.attribution.Attribute(r.Context(), services.AttributionContext{
		Attribution: &attribution,
		Order:       order,
	})
	if outcome.ClearAttribution {
		h.cookie.Clear(w)
	}
}

func writeSettlementError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "payment signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrSettlementInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "gateway order id, payment id and signature are required", http.StatusBadRequest))
	case errors.Is(err, services.ErrSettlementOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotPaid):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_paid", "order has not been paid", http.StatusConflict))
	case errors.Is(err, services.ErrReceiptsDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("receipts_disabled", "receipt archiving is not configured", http.StatusNotImplemented))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("settlement_unavailable", "payment verification is temporarily unavailable", http.StatusServiceUnavailable))
	}
}
