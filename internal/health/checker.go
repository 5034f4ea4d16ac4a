package health

import (
	"context"
	"sync"
	"time"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// Component is anything that can report its own health
type Component interface {
	HealthCheck(ctx context.Context) domain.HealthStatus
}

// TargetProbe reports whether the deployment target is usable
type TargetProbe interface {
	CheckTarget() error
	TargetDir() string
	Strategy() domain.Strategy
}

// SystemHealthChecker aggregates the health of the stores and the target directory
type SystemHealthChecker struct {
	states     domain.StateRepository
	priorities domain.PriorityRepository
	cache      domain.FileSetCache
	usage      Component
	target     TargetProbe

	timeout   time.Duration
	startTime time.Time

	// Cached health status to avoid walking the stores on every request
	lastCheck   time.Time
	lastHealth  domain.SystemHealth
	cacheTTL    time.Duration
	healthMutex sync.RWMutex
}

// NewSystemHealthChecker creates a new system health checker. cache and usage may be nil.
func NewSystemHealthChecker(
	states domain.StateRepository,
	priorities domain.PriorityRepository,
	cache domain.FileSetCache,
	usage Component,
	target TargetProbe,
) *SystemHealthChecker {
	return &SystemHealthChecker{
		states:     states,
		priorities: priorities,
		cache:      cache,
		usage:      usage,
		target:     target,
		timeout:    5 * time.Second,
		cacheTTL:   10 * time.Second,
		startTime:  time.Now(),
	}
}

// components lists the checks by name; optional parts are left out when absent
func (h *SystemHealthChecker) components() map[string]func(context.Context) domain.HealthStatus {
	checks := map[string]func(context.Context) domain.HealthStatus{
		"state":      h.states.HealthCheck,
		"priorities": h.priorities.HealthCheck,
		"target":     h.checkTarget,
	}
	if h.cache != nil {
		checks["cache"] = h.cache.HealthCheck
	}
	if h.usage != nil {
		checks["usage"] = h.usage.HealthCheck
	}
	return checks
}

// CheckHealth checks every component and caches the result briefly
func (h *SystemHealthChecker) CheckHealth(ctx context.Context) domain.SystemHealth {
	h.healthMutex.Lock()
	defer h.healthMutex.Unlock()

	if time.Since(h.lastCheck) < h.cacheTTL {
		return h.lastHealth
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	now := time.Now()
	components := make(map[string]domain.HealthStatus)
	overallStatus := domain.HealthStatusHealthy

	for name, check := range h.components() {
		status := check(checkCtx)
		components[name] = status
		overallStatus = aggregateStatus(overallStatus, status.Status)
	}

	systemHealth := domain.SystemHealth{
		Status:          overallStatus,
		Strategy:        h.target.Strategy(),
		EnabledPackages: len(h.states.EnabledPackages()),
		Components:      components,
		Metrics:         h.collectMetrics(checkCtx),
		Uptime:          time.Since(h.startTime),
		Timestamp:       now,
	}

	h.lastCheck = now
	h.lastHealth = systemHealth
	return systemHealth
}

// CheckComponent performs a health check on a specific component
func (h *SystemHealthChecker) CheckComponent(ctx context.Context, component string) domain.HealthStatus {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if check, ok := h.components()[component]; ok {
		return check(checkCtx)
	}
	return domain.HealthStatus{
		Status:    domain.HealthStatusUnhealthy,
		Message:   "Unknown component",
		Timestamp: time.Now(),
		Details: map[string]any{
			"component": component,
			"error":     "Component not found",
		},
	}
}

// checkTarget is degraded rather than unhealthy: the service still answers
// listing and history requests without a target directory
func (h *SystemHealthChecker) checkTarget(ctx context.Context) domain.HealthStatus {
	status := domain.HealthStatus{
		Status:    domain.HealthStatusHealthy,
		Timestamp: time.Now(),
		Details: map[string]any{
			"target_dir": h.target.TargetDir(),
			"strategy":   h.target.Strategy(),
		},
	}
	if err := h.target.CheckTarget(); err != nil {
		status.Status = domain.HealthStatusDegraded
		status.Message = err.Error()
	}
	return status
}

// aggregateStatus keeps the worse of two statuses: unhealthy > degraded > healthy
func aggregateStatus(current, componentStatus string) string {
	statusPriority := map[string]int{
		domain.HealthStatusHealthy:   0,
		domain.HealthStatusDegraded:  1,
		domain.HealthStatusUnhealthy: 2,
	}

	if statusPriority[componentStatus] > statusPriority[current] {
		return componentStatus
	}
	return current
}

func (h *SystemHealthChecker) collectMetrics(ctx context.Context) map[string]any {
	metrics := make(map[string]any)

	if stats := h.states.GetStats(ctx); stats != nil {
		metrics["state"] = stats
	}
	metrics["priority_groups"] = len(h.priorities.Groups())

	if h.cache != nil {
		metrics["file_sets"] = h.cache.Stats()
	}

	metrics["system"] = map[string]any{
		"uptime_seconds": time.Since(h.startTime).Seconds(),
		"timestamp":      time.Now(),
	}
	return metrics
}

// IsHealthy returns true if the system is healthy
func (h *SystemHealthChecker) IsHealthy(ctx context.Context) bool {
	return h.CheckHealth(ctx).Status == domain.HealthStatusHealthy
}
