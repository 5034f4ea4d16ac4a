// Package app wires the stores, the deployment engine and the manager from
// a loaded configuration.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/api"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/bisect"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/cache"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/config"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/conflict"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/deploy"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/health"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/integrity"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/manager"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/metrics"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/pack"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/storage"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/usage"
)

// Service holds every long-lived component of one mod manager instance
type Service struct {
	Config     *config.Config
	Library    *pack.Library
	Cache      *cache.FileSetCache
	States     *storage.StateStore
	Priorities *conflict.PriorityStore
	Usage      *usage.Store // nil when the usage database could not be opened
	Metrics    *metrics.Metrics
	Engine     *deploy.Engine
	Manager    *manager.Manager
	Isolator   *bisect.Isolator
	Health     *health.SystemHealthChecker
}

// Open builds a Service on fs. State and priority files are loaded before it returns.
func Open(ctx context.Context, cfg *config.Config, fs afero.Fs) (*Service, error) {
	fileSets := cache.NewFileSetCache(cfg.Cache.MaxSize, cfg.Cache.TTL)
	library := pack.NewLibrary(fs, pack.LibraryConfig{
		PackagesDir:    cfg.Deploy.PackagesDir,
		MetadataDir:    cfg.Deploy.MetadataDir,
		IgnorePatterns: cfg.Deploy.IgnorePatterns,
	}, fileSets)
	manifests := pack.NewManifestStore(library)

	states := storage.NewStateStore(cfg.StatePath())
	if err := states.Load(ctx); err != nil {
		return nil, fmt.Errorf("load package states: %w", err)
	}
	priorities := conflict.NewPriorityStore(cfg.PriorityPath())
	if err := priorities.Load(ctx); err != nil {
		return nil, fmt.Errorf("load priorities: %w", err)
	}

	s := &Service{
		Config:     cfg,
		Library:    library,
		Cache:      fileSets,
		States:     states,
		Priorities: priorities,
		Metrics:    metrics.New(),
	}

	// usage history is optional; recorder and probe stay nil interfaces without it
	var recorder domain.UsageRecorder
	var probe health.Component
	if history, err := usage.Open(cfg.UsageDBPath()); err != nil {
		log.Warn().Err(err).Str("path", cfg.UsageDBPath()).Msg("Usage history disabled")
	} else {
		s.Usage = history
		recorder = history
		probe = history
	}

	// a strategy chosen at runtime outlives the configured default
	strategy := cfg.DeploymentStrategy()
	if stored := states.Strategy(); stored != "" {
		strategy = stored
	}
	s.Engine = deploy.NewEngine(fs, deploy.Config{
		TargetDir: cfg.Deploy.TargetDir,
		Strategy:  strategy,
	}, library, states, priorities)

	s.Manager = manager.New(manager.Deps{
		Library:    library,
		Manifests:  manifests,
		Checker:    integrity.NewChecker(library, manifests),
		Detector:   conflict.NewDetector(library),
		Priorities: priorities,
		States:     states,
		Engine:     s.Engine,
		Usage:      recorder,
		Metrics:    s.Metrics,
	})
	s.Metrics.SetEnabled(len(states.EnabledPackages()))

	s.Isolator = bisect.NewIsolator(s.Manager, s.Metrics)
	s.Health = health.NewSystemHealthChecker(states, priorities, fileSets, probe, s.Engine)

	return s, nil
}

// RouterDependencies returns the API dependencies backed by this service
func (s *Service) RouterDependencies() api.RouterDependencies {
	deps := api.RouterDependencies{
		Manager:       s.Manager,
		Priorities:    s.Priorities,
		HealthChecker: s.Health,
		Isolator:      s.Isolator,
		Metrics:       s.Metrics.Handler(),
	}
	if s.Usage != nil {
		deps.Usage = s.Usage
	}
	return deps
}

// RouterConfig returns the API settings from the configuration
func (s *Service) RouterConfig() api.RouterConfig {
	return api.RouterConfig{
		CORSOrigins:    s.Config.Security.CORSOrigins,
		BodyLimit:      s.Config.Server.BodyLimit,
		RateLimitRPS:   s.Config.Security.RateLimitRPS,
		RateLimitBurst: s.Config.Security.RateLimitBurst,
	}
}

// Close releases the usage database
func (s *Service) Close() error {
	if s.Usage == nil {
		return nil
	}
	return s.Usage.Close()
}
