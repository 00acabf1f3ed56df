package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atelier-noir/api/internal/platform/auth"
	"github.com/atelier-noir/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger is the printf-style logger used for persistence failures.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	headerName  string
	ttl         time.Duration
	methods     map[string]struct{}
	clock       func() time.Time
	logger      Logger
	optionalKey bool
}

// MiddlewareOption customises the middleware.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long completed responses are replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the guarded HTTP methods.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			cfg.methods = set
		}
	}
}

// WithLogger injects a logger for persistence failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.optionalKey = true }
}

// Middleware replays the stored response for a repeated key and rejects concurrent reuse.
// Server errors (5xx) are not stored: the key is released so the client may retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := cfg.methods[r.Method]; !guarded {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				if cfg.optionalKey {
					next.ServeHTTP(w, r)
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing idempotency key header", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			requester := extractRequester(ctx)
			fingerprint := requestFingerprint(r, body, requester)
			scoped := key + "|" + requester

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
					return
				}
				cfg.logf("idempotency: reserve failed: %v", err)
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			recorder := newBufferedResponse()
			next.ServeHTTP(recorder, r)

			if recorder.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					cfg.logf("idempotency: release after server error failed: %v", err)
				}
			} else {
				resp := Response{Status: recorder.status, Headers: recorder.header, Body: recorder.body.Bytes()}
				if err := store.SaveResponse(ctx, scoped, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
					cfg.logf("idempotency: save response failed: %v", err)
					if err := store.Release(ctx, scoped, fingerprint); err != nil {
						cfg.logf("idempotency: release after save failure failed: %v", err)
					}
				}
			}

			if err := recorder.flushTo(w); err != nil {
				cfg.logf("idempotency: write response failed: %v", err)
			}
		})
	}
}

func (cfg middlewareConfig) logf(format string, args ...any) {
	if cfg.logger != nil {
		cfg.logger.Printf(format, args...)
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	parts := []string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		requester,
		sha256Hex(body),
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return svc.Subject
	}
	return "anonymous"
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range replayHeaders(record.ResponseHeaders) {
		header[name] = values
	}
	header.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// bufferedResponse holds the handler output until the outcome has been persisted.
type bufferedResponse struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if !b.wroteHeader {
		b.status = status
		b.wroteHeader = true
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.status)
	_, err := w.Write(b.body.Bytes())
	return err
}
