package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"
)

const demoIntentPrefix = "demo_"

// ErrPaymentGateway classifies every failure returned by a remote payment gateway.
var ErrPaymentGateway = errors.New("payments: gateway error")

// ErrInvalidAmount is returned for non-positive amounts or amounts that overflow the minor unit.
var ErrInvalidAmount = errors.New("payments: invalid amount")

// GatewayError carries the gateway failure cause. It matches ErrPaymentGateway.
type GatewayError struct {
	Op   string
	Code string
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payments: %s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("payments: %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrPaymentGateway }

// GatewayIntentRequest is the minor-unit request sent to a remote gateway.
type GatewayIntentRequest struct {
	OrderID        string
	AmountMinor    int64
	Currency       string
	CustomerEmail  string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// GatewayIntent is the gateway's view of a created payment intent.
type GatewayIntent struct {
	ID           string
	ClientSecret string
}

// Gateway creates remote payment intents.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req GatewayIntentRequest) (GatewayIntent, error)
}

// IntentRequest asks for a payment intent covering an order total in major units.
type IntentRequest struct {
	OrderID       string
	Amount        int64
	Currency      string
	CustomerEmail string
}

// Intent is the payment intent handed back to the client.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	AmountMinor  int64
	Currency     string
	Demo         bool
}

// IntentAdapter converts order totals to gateway requests. Without a gateway it issues
// demo intents and makes no network call.
type IntentAdapter struct {
	gateway Gateway
	newID   func() string
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// IntentAdapterOption customises the adapter.
type IntentAdapterOption func(*IntentAdapter)

// WithIntentIDGenerator overrides demo intent id generation.
func WithIntentIDGenerator(gen func() string) IntentAdapterOption {
	return func(a *IntentAdapter) {
		if gen != nil {
			a.newID = gen
		}
	}
}

// WithIntentLogger sets the structured logger callback.
func WithIntentLogger(logger func(ctx context.Context, event string, fields map[string]any)) IntentAdapterOption {
	return func(a *IntentAdapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewIntentAdapter constructs an adapter. A nil gateway selects demo mode.
func NewIntentAdapter(gateway Gateway, opts ...IntentAdapterOption) *IntentAdapter {
	a := &IntentAdapter{
		gateway: gateway,
		newID:   func() string { return ulid.Make().String() },
		logger:  func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Demo reports whether the adapter issues demo intents.
func (a *IntentAdapter) Demo() bool { return a.gateway == nil }

// CreateIntent requests an intent for req.
func (a *IntentAdapter) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Currency))
	minor, err := ToMinorUnits(req.Amount, code)
	if err != nil {
		return Intent{}, err
	}
	intent := Intent{Amount: req.Amount, AmountMinor: minor, Currency: code}

	if a.gateway == nil {
		intent.ID = demoIntentPrefix + a.newID()
		intent.Demo = true
		a.logger(ctx, "payments.intent.demo", map[string]any{"orderId": req.OrderID, "intentId": intent.ID})
		return intent, nil
	}

	remote, err := a.gateway.CreatePaymentIntent(ctx, GatewayIntentRequest{
		OrderID:       req.OrderID,
		AmountMinor:   minor,
		Currency:      code,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		Description:   "Order " + req.OrderID,
		Metadata: map[string]string{
			"orderId": req.OrderID,
			"receipt": "rcpt_" + req.OrderID,
		},
		IdempotencyKey: fmt.Sprintf("intent-%s-%d", req.OrderID, minor),
	})
	if err != nil {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			err = &GatewayError{Op: "create_intent", Err: err}
		}
		a.logger(ctx, "payments.intent.failed", map[string]any{"orderId": req.OrderID, "error": err.Error()})
		return Intent{}, err
	}

	intent.ID = remote.ID
	intent.ClientSecret = remote.ClientSecret
	return intent, nil
}

// ToMinorUnits converts a major-unit amount to the currency's ISO 4217 minor unit.
func ToMinorUnits(amount int64, code string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("payments: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	factor := int64(math.Pow10(scale))
	if amount > math.MaxInt64/factor {
		return 0, fmt.Errorf("%w: %d overflows minor units", ErrInvalidAmount, amount)
	}
	return amount * factor, nil
}
