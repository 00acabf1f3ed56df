package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultBasePath            = "/api/v1"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultCurrency            = "INR"
	defaultFreeShippingAbove   = 10000
	defaultFlatShippingFee     = 500
	defaultTaxRateBPS          = 1800
	defaultReferralParam       = "ref"
	defaultReferralCookie      = "an_ref"
	defaultReferralWindow      = 30 * 24 * time.Hour
	defaultEffectTimeout       = 10 * time.Second
	defaultOrderEventsTopic    = "orders.settled"
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
)

// Inventory policies accepted by Checkout.InventoryPolicy.
const (
	InventoryPolicyStrict  = "strict"
	InventoryPolicyLenient = "lenient"
)

// Config captures runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Checkout    CheckoutConfig
	Referral    ReferralConfig
	PubSub      PubSubConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         string
	BasePath     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig names the bucket receiving settled order receipts. Empty disables archiving.
type StorageConfig struct {
	ReceiptsBucket string
}

// PSPConfig holds payment gateway credentials. An empty StripeAPIKey puts checkout in demo mode.
type PSPConfig struct {
	StripeAPIKey   string
	CallbackSecret string
}

// CheckoutConfig controls server-side pricing and settlement.
type CheckoutConfig struct {
	Currency              string
	FreeShippingThreshold int64
	FlatShippingFee       int64
	TaxRateBPS            int64
	InventoryPolicy       string
}

// ReferralConfig controls referral link capture.
type ReferralConfig struct {
	QueryParam    string
	CookieName    string
	SigningKey    string
	Window        time.Duration
	EffectTimeout time.Duration
	SecureCookie  bool
}

// PubSubConfig names the topic receiving order settlement events. Empty ProjectID disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls the idempotency middleware.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a failed secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to empty values. Names are
// reported as short hashes so the error can be logged safely.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers for the missing secrets.
func (e *MissingSecretsError) RedactedNames() []string {
	names := e.Names()
	for i, name := range names {
		names[i] = redactSecretName(name)
	}
	sort.Strings(names)
	return names
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithEnvFile overrides the dotenv file path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv stops the loader from reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (for example "PSP.CallbackSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so
// callers can build dependencies such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	env, err := newEnvSource(options)
	if err != nil {
		return nil, err
	}
	return env.merged(), nil
}

// Load assembles configuration from defaults, the dotenv file, the environment, and
// resolved secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	env, err := newEnvSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			BasePath:     strings.TrimRight(env.str("API_SERVER_BASE_PATH", defaultBasePath), "/"),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ReceiptsBucket: env.str("API_STORAGE_RECEIPTS_BUCKET", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:   env.str("API_PSP_STRIPE_API_KEY", ""),
			CallbackSecret: env.str("API_PSP_CALLBACK_SECRET", ""),
		},
		Checkout: CheckoutConfig{
			Currency:              strings.ToUpper(env.str("API_CHECKOUT_CURRENCY", defaultCurrency)),
			FreeShippingThreshold: env.int64("API_CHECKOUT_FREE_SHIPPING_THRESHOLD", defaultFreeShippingAbove),
			FlatShippingFee:       env.int64("API_CHECKOUT_FLAT_SHIPPING_FEE", defaultFlatShippingFee),
			TaxRateBPS:            env.int64("API_CHECKOUT_TAX_RATE_BPS", defaultTaxRateBPS),
			InventoryPolicy:       strings.ToLower(env.str("API_CHECKOUT_INVENTORY_POLICY", InventoryPolicyStrict)),
		},
		Referral: ReferralConfig{
			QueryParam:    env.str("API_REFERRAL_QUERY_PARAM", defaultReferralParam),
			CookieName:    env.str("API_REFERRAL_COOKIE_NAME", defaultReferralCookie),
			SigningKey:    env.str("API_REFERRAL_SIGNING_KEY", ""),
			Window:        env.duration("API_REFERRAL_WINDOW", defaultReferralWindow),
			EffectTimeout: env.duration("API_REFERRAL_EFFECT_TIMEOUT", defaultEffectTimeout),
			SecureCookie:  env.boolean("API_REFERRAL_SECURE_COOKIE", true),
		},
		PubSub: PubSubConfig{
			ProjectID:        env.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: env.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.keyValues("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.CallbackSecret", &cfg.PSP.CallbackSecret},
		{"Referral.SigningKey", &cfg.Referral.SigningKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(strings.HasPrefix(cfg.Server.BasePath, "/"), "Server.BasePath")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(cfg.PSP.CallbackSecret != "", "PSP.CallbackSecret")
	check(cfg.Referral.SigningKey != "", "Referral.SigningKey")
	check(validCurrency(cfg.Checkout.Currency), "Checkout.Currency")
	check(cfg.Checkout.FreeShippingThreshold >= 0, "Checkout.FreeShippingThreshold")
	check(cfg.Checkout.FlatShippingFee >= 0, "Checkout.FlatShippingFee")
	check(cfg.Checkout.TaxRateBPS >= 0 && cfg.Checkout.TaxRateBPS <= 10000, "Checkout.TaxRateBPS")
	check(cfg.Checkout.InventoryPolicy == InventoryPolicyStrict || cfg.Checkout.InventoryPolicy == InventoryPolicyLenient, "Checkout.InventoryPolicy")
	check(strings.TrimSpace(cfg.Referral.QueryParam) != "", "Referral.QueryParam")
	check(strings.TrimSpace(cfg.Referral.CookieName) != "", "Referral.CookieName")
	check(cfg.Referral.Window > 0, "Referral.Window")
	check(cfg.Referral.EffectTimeout > 0, "Referral.EffectTimeout")
	check(cfg.PubSub.ProjectID == "" || cfg.PubSub.OrderEventsTopic != "", "PubSub.OrderEventsTopic")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	_, err := currency.ParseISO(code)
	return err == nil
}
