package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/atelier-noir/api/internal/domain"
	"github.com/atelier-noir/api/internal/platform/httpx"
	"github.com/atelier-noir/api/internal/repositories"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  BuildInfo
	health repositories.HealthRepository
	now    func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by both probes.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = info }
}

// WithHealthRepository sets the dependency probes used by /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) { h.health = repo }
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewHealthHandlers constructs HealthHandlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

type healthCheckResponse struct {
	Status    domain.HealthStatus `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	LatencyMS int64               `json:"latencyMs"`
	CheckedAt string              `json:"checkedAt,omitempty"`
}

type healthResponse struct {
	Status      domain.HealthStatus            `json:"status"`
	Version     string                         `json:"version,omitempty"`
	CommitSHA   string                         `json:"commitSha,omitempty"`
	Environment string                         `json:"environment,omitempty"`
	Uptime      string                         `json:"uptime"`
	Timestamp   string                         `json:"timestamp"`
	Checks      map[string]healthCheckResponse `json:"checks,omitempty"`
	Details     []string                       `json:"details,omitempty"`
}

// Healthz reports that the process is serving.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.baseResponse(domain.HealthStatusOK))
}

// Readyz probes dependencies. Any check in error makes the service unready.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		httpx.WriteJSON(w, http.StatusOK, h.baseResponse(domain.HealthStatusOK))
		return
	}

	report, err := h.health.Collect(r.Context())
	if err != nil {
		resp := h.baseResponse(domain.HealthStatusError)
		resp.Details = []string{err.Error()}
		httpx.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp := h.baseResponse(report.Status)
	resp.Checks = make(map[string]healthCheckResponse, len(report.Checks))
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		resp.Checks[name] = healthCheckResponse{
			Status:    check.Status,
			Detail:    check.Detail,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
		if check.Status != domain.HealthStatusOK && check.Detail != "" {
			resp.Details = append(resp.Details, name+": "+check.Detail)
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}

func (h *HealthHandlers) baseResponse(status domain.HealthStatus) healthResponse {
	now := h.now().UTC()
	return healthResponse{
		Status:      status,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	}
}
