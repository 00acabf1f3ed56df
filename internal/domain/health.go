package domain

import "time"

// HealthStatus is the state of one dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// HealthCheck is the result of a single dependency probe.
type HealthCheck struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport summarises every dependency probe.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
