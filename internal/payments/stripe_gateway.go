package payments

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   func(ctx context.Context, event string, fields map[string]any)

	intents stripePaymentIntentAPI
}

// StripeGateway creates Stripe PaymentIntents.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	logger  func(ctx context.Context, event string, fields map[string]any)
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe-backed Gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	intents := cfg.intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{intents: intents, logger: logger}, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req GatewayIntentRequest) (GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = maps.Clone(req.Metadata)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		gwErr := &GatewayError{Op: "stripe.create_payment_intent", Err: err}
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			gwErr.Code = string(stripeErr.Code)
		}
		return GatewayIntent{}, gwErr
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"orderId":  req.OrderID,
		"intentId": intent.ID,
		"amount":   intent.Amount,
		"currency": string(intent.Currency),
	})
	return GatewayIntent{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}
