package testutil

import (
	"testing"
	"time"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/config"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// NewConfig returns a configuration pointing at the workspace, with the
// stores under a fresh t.TempDir() on the real filesystem
func NewConfig(t *testing.T, w *Workspace, strategy domain.Strategy) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.Port = 8765
	cfg.Server.BodyLimit = 1 << 20
	cfg.Deploy.TargetDir = w.TargetDir
	cfg.Deploy.PackagesDir = w.PackagesDir
	cfg.Deploy.Strategy = string(strategy)
	cfg.Deploy.MetadataDir = domain.DefaultMetadataDir
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.StateFile = "package_states.json"
	cfg.Storage.PriorityFile = "priorities.json"
	cfg.Storage.UsageDB = "usage.db"
	cfg.Cache.MaxSize = 64
	cfg.Cache.TTL = time.Minute
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	return cfg
}
