package domain

import "time"

// Health status values, worst last
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)

// HealthStatus is the result of checking one component
type HealthStatus struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SystemHealth combines the component checks with a summary of the deployment
type SystemHealth struct {
	Status          string                  `json:"status"`
	Strategy        Strategy                `json:"strategy"`
	EnabledPackages int                     `json:"enabled_packages"`
	Components      map[string]HealthStatus `json:"components"`
	Metrics         map[string]any          `json:"metrics,omitempty"`
	Uptime          time.Duration           `json:"uptime"`
	Timestamp       time.Time               `json:"timestamp"`
}

// FileSetStats counts file set cache lookups. Expired lookups count as misses too.
type FileSetStats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Expired  int64   `json:"expired"`
	Size     int     `json:"size"`
	MaxSize  int     `json:"max_size"`
	HitRatio float64 `json:"hit_ratio"`
}
