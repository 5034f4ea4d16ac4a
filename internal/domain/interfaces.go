package domain

import (
	"context"
	"time"
)

// StateRepository persists per-package flags
type StateRepository interface {
	Load(ctx context.Context) error
	Get(name string) (PackageState, bool)
	All() map[string]PackageState
	EnabledPackages() []string
	IsEnabled(name string) bool
	SetEnabled(ctx context.Context, name string, enabled bool) error
	SetFlags(ctx context.Context, name string, favorite, ignored *bool) (PackageState, error)
	Touch(ctx context.Context, name string, importTime time.Time) error
	Delete(ctx context.Context, name string) error
	// Strategy is the persisted deployment strategy, empty when none was chosen
	Strategy() Strategy
	SetStrategy(ctx context.Context, strategy Strategy) error

	// Health and monitoring
	HealthCheck(ctx context.Context) HealthStatus
	GetStats(ctx context.Context) map[string]any
}

// PriorityRepository persists priority orders keyed by conflict group
type PriorityRepository interface {
	Load(ctx context.Context) error
	Resolve(candidate string, conflicting []string) (PriorityOrder, bool)
	Lookup(members []string) (PriorityOrder, bool)
	Save(ctx context.Context, order PriorityOrder) error
	Delete(ctx context.Context, key string) error
	Forget(ctx context.Context, name string) error
	Groups() []ConflictGroup
	GroupsContaining(name string) []ConflictGroup

	HealthCheck(ctx context.Context) HealthStatus
}

// FileSetCache caches computed package file sets
type FileSetCache interface {
	Get(name string) ([]string, bool)
	Set(name string, files []string)
	Invalidate(name string)
	Clear()
	Stats() FileSetStats

	HealthCheck(ctx context.Context) HealthStatus
}

// UsageRecorder stores enable/disable history
type UsageRecorder interface {
	Record(ctx context.Context, event UsageEvent) error
}

// HealthChecker defines the interface for system health monitoring
type HealthChecker interface {
	CheckHealth(ctx context.Context) SystemHealth
	CheckComponent(ctx context.Context, component string) HealthStatus
}
