package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atelier-noir/api/internal/payments"
	"github.com/atelier-noir/api/internal/platform/config"
	pfirestore "github.com/atelier-noir/api/internal/platform/firestore"
	"github.com/atelier-noir/api/internal/platform/observability"
	"github.com/atelier-noir/api/internal/repositories"
	firestoreRepo "github.com/atelier-noir/api/internal/repositories/firestore"
	"github.com/atelier-noir/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout    services.CheckoutService
	Settlement  services.SettlementService
	Referral    services.ReferralService
	Attribution services.AttributionService
}

// Infrastructure carries the clients constructed by the binary. Only Firestore is required;
// a nil Gateway puts checkout in demo mode and nil Publisher, Receipts or Links disable those
// settlement side effects.
type Infrastructure struct {
	Firestore *pfirestore.Provider
	Gateway   payments.Gateway
	Publisher services.OrderEventPublisher
	Receipts  services.ReceiptArchiver
	Links     services.ReceiptLinker
	Metrics   *observability.Outcomes
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Services Services
	Effects  *services.EffectRunner
	Health   repositories.HealthRepository

	firestore *pfirestore.Provider
}

// NewContainer constructs the runtime dependencies from cfg and infra.
func NewContainer(ctx context.Context, cfg config.Config, infra Infrastructure) (*Container, error) {
	if infra.Firestore == nil {
		return nil, errors.New("firestore provider is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	svc, err := buildServices(cfg, infra)
	if err != nil {
		return nil, err
	}

	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 3 * time.Second,
		Check:   infra.Firestore.Ping,
	}}, repositories.WithDependencyClock(infra.Clock))
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	effects := services.NewEffectRunner(cfg.Referral.EffectTimeout, services.NewEffectLogObserver(
		observability.EventLogger(infra.Logger.Named("referral")),
		infra.Metrics,
	))

	return &Container{
		Config:    cfg,
		Services:  svc,
		Effects:   effects,
		Health:    health,
		firestore: infra.Firestore,
	}, nil
}

// Close waits for in-flight effects and releases the Firestore client.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Effects != nil {
		if err := c.Effects.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for effects: %w", err))
		}
	}
	if c.firestore != nil {
		if err := c.firestore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(cfg config.Config, infra Infrastructure) (Services, error) {
	provider := infra.Firestore

	products, err := firestoreRepo.NewProductRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build product repository: %w", err)
	}
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build order repository: %w", err)
	}
	alerts, err := firestoreRepo.NewPaymentAlertRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build payment alert repository: %w", err)
	}
	affiliates, err := firestoreRepo.NewAffiliateRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build affiliate repository: %w", err)
	}
	commissions, err := firestoreRepo.NewCommissionRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build commission repository: %w", err)
	}
	visits, err := firestoreRepo.NewVisitRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build visit repository: %w", err)
	}

	var svc Services

	intents := payments.NewIntentAdapter(infra.Gateway,
		payments.WithIntentLogger(observability.EventLogger(infra.Logger.Named("payments"))),
	)
	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Products: products,
		Orders:   orders,
		Intents:  intents,
		Pricing: services.PricingRules{
			Currency:              cfg.Checkout.Currency,
			FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
			FlatShippingFee:       cfg.Checkout.FlatShippingFee,
			TaxRateBPS:            cfg.Checkout.TaxRateBPS,
		},
		Clock:  infra.Clock,
		Logger: observability.EventLogger(infra.Logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	verifier, err := payments.NewSignatureVerifier(cfg.PSP.CallbackSecret)
	if err != nil {
		return Services{}, fmt.Errorf("build signature verifier: %w", err)
	}
	svc.Settlement, err = services.NewSettlementService(services.SettlementServiceDeps{
		Orders:    orders,
		Alerts:    alerts,
		Verifier:  verifier,
		Policy:    repositories.InventoryPolicy(cfg.Checkout.InventoryPolicy),
		Publisher: infra.Publisher,
		Receipts:  infra.Receipts,
		Links:     infra.Links,
		Metrics:   infra.Metrics,
		Clock:     infra.Clock,
		Logger:    observability.EventLogger(infra.Logger.Named("settlement")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settlement service: %w", err)
	}

	svc.Referral, err = services.NewReferralService(services.ReferralServiceDeps{
		Affiliates: affiliates,
		Visits:     visits,
		Window:     cfg.Referral.Window,
		Clock:      infra.Clock,
		Logger:     observability.EventLogger(infra.Logger.Named("referral")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build referral service: %w", err)
	}

	svc.Attribution, err = services.NewAttributionService(services.AttributionServiceDeps{
		Affiliates:  affiliates,
		Commissions: commissions,
		Visits:      visits,
		Metrics:     infra.Metrics,
		Clock:       infra.Clock,
		Logger:      observability.EventLogger(infra.Logger.Named("attribution")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build attribution service: %w", err)
	}

	return svc, nil
}
