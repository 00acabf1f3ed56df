package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/atelier-noir/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func TestNewRouter_DefaultMounts(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	healthHandlers := NewHealthHandlers(
		WithHealthRepository(&stubHealthRepository{
			report: domain.HealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	router := NewRouter(WithHealthHandlers(healthHandlers))

	t.Run("healthz", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("default not implemented group", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected status 501, got %d", rr.Code)
		}

		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("expected JSON body: %v", err)
		}
		if body["error"] != "not_implemented" {
			t.Fatalf("expected not_implemented error, got %v", body["error"])
		}
	})
}

func TestNewRouter_WithRegistrars(t *testing.T) {
	registrar := func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	router := NewRouter(WithOrderRoutes(registrar))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
}

func TestNewRouter_WithBasePath(t *testing.T) {
	registrar := func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	router := NewRouter(WithBasePath("/shop/v2"), WithOrderRoutes(registrar))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/shop/v2/orders", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 under custom base path, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected default base path unmounted, got %d", rr.Code)
	}
}

func TestNewRouter_NotFound(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/does/not/exist", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found error, got %v", body["error"])
	}
}

func TestNewRouter_GroupMiddleware(t *testing.T) {
	internalHeader := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test-Middleware", "internal")
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(WithInternalMiddlewares(internalHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/internal/payment-alerts", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Header().Get("X-Test-Middleware") != "internal" {
		t.Fatalf("expected internal middleware to set header")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	rr = httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Header().Get("X-Test-Middleware") != "" {
		t.Fatalf("expected internal middleware to stay scoped to /internal")
	}
}

func TestReadyz_ReportsUnready(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	handlers := NewHealthHandlers(
		WithHealthRepository(&stubHealthRepository{
			report: domain.HealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusError, Detail: "deadline exceeded"},
				},
			},
		}),
		WithHealthBuildInfo(BuildInfo{Version: "1.2.3", StartedAt: now.Add(-time.Minute)}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var body struct {
		Status  string   `json:"status"`
		Version string   `json:"version"`
		Uptime  string   `json:"uptime"`
		Details []string `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "error" || body.Version != "1.2.3" || body.Uptime != "1m0s" {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(body.Details) != 1 || body.Details[0] != "firestore: deadline exceeded" {
		t.Fatalf("unexpected details %v", body.Details)
	}
}

func TestReadyz_CollectFailure(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthRepository(&stubHealthRepository{err: context.DeadlineExceeded}))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
