package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

func TestLoad_DefaultValues(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 1048576, cfg.Server.BodyLimit)
	assert.Equal(t, 512, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, "package_states.json", cfg.Storage.StateFile)
	assert.Equal(t, "priorities.json", cfg.Storage.PriorityFile)
	assert.Equal(t, "usage.db", cfg.Storage.UsageDB)
	assert.Empty(t, cfg.Security.CORSOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Empty(t, cfg.Deploy.TargetDir)
	assert.Equal(t, "./mods", cfg.Deploy.PackagesDir)
	assert.Equal(t, "copy", cfg.Deploy.Strategy)
	assert.Equal(t, "modinfo", cfg.Deploy.MetadataDir)
	assert.Empty(t, cfg.Deploy.IgnorePatterns)
	assert.Equal(t, domain.StrategyCopy, cfg.DeploymentStrategy())
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	tempDir := t.TempDir()
	os.Setenv("PORT", "9090")
	os.Setenv("READ_TIMEOUT", "10s")
	os.Setenv("FILESET_CACHE_SIZE", "64")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("CORS_ORIGINS", "https://example.com,https://test.com")
	os.Setenv("TARGET_DIR", filepath.Join(tempDir, "game"))
	os.Setenv("PACKAGES_DIR", filepath.Join(tempDir, "mods"))
	os.Setenv("STRATEGY", "link")
	os.Setenv("IGNORE_PATTERNS", "**/*.bak,**/Thumbs.db")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 64, cfg.Cache.MaxSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"https://example.com", "https://test.com"}, cfg.Security.CORSOrigins)
	assert.Equal(t, domain.StrategyLink, cfg.DeploymentStrategy())
	assert.Equal(t, []string{"**/*.bak", "**/Thumbs.db"}, cfg.Deploy.IgnorePatterns)
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 0

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Port must be at least 1")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Logging.Level = "invalid"

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Level must be one of: debug info warn error")
}

func TestValidate_InvalidStrategy(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Deploy.Strategy = "hardlink"

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Strategy must be copy or link")
}

func TestValidate_StrategyIsCaseInsensitive(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Deploy.Strategy = "Link"

	require.NoError(t, Validate(cfg))
	assert.Equal(t, domain.StrategyLink, cfg.DeploymentStrategy())
}

func TestValidate_IgnorePatterns(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Deploy.IgnorePatterns = []string{"**/*.bak", "[unclosed"}

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "IgnorePatterns contains an invalid glob pattern")

	cfg.Deploy.IgnorePatterns = []string{"**/*.bak", "*.{tmp,log}"}
	assert.NoError(t, Validate(cfg))
}

func TestValidate_MetadataDirMustBeFolderName(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Deploy.MetadataDir = "meta/info"

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MetadataDir must be a single folder name")
}

func TestValidate_TargetInsidePackages(t *testing.T) {
	tempDir := t.TempDir()
	cfg := createValidConfig(tempDir)
	cfg.Deploy.TargetDir = filepath.Join(cfg.Deploy.PackagesDir, "game")

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must not contain each other")
}

func TestValidate_InvalidCORSOrigins(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Security.CORSOrigins = []string{"invalid-origin"}

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "CORSOrigins contains invalid origin format")
}

func TestValidate_InvalidPortRange(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero", 0},
		{"negative", -1},
		{"too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createValidConfig(t.TempDir())
			cfg.Server.Port = tt.port
			err := Validate(cfg)
			assert.Error(t, err)
		})
	}
}

func TestValidate_CacheTTL(t *testing.T) {
	cfg := createValidConfig(t.TempDir())
	cfg.Cache.TTL = 10 * time.Millisecond

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "TTL must be at least 1 second")
}

func TestDataPaths(t *testing.T) {
	cfg := createValidConfig("/srv")

	assert.Equal(t, filepath.Join("/srv/data", "package_states.json"), cfg.StatePath())
	assert.Equal(t, filepath.Join("/srv/data", "priorities.json"), cfg.PriorityPath())

	cfg.Storage.UsageDB = "/var/lib/mm/usage.db"
	assert.Equal(t, "/var/lib/mm/usage.db", cfg.UsageDBPath())
}

func TestEnsureDirectories(t *testing.T) {
	tempDir := t.TempDir()
	cfg := createValidConfig(tempDir)
	cfg.Deploy.TargetDir = filepath.Join(tempDir, "game")

	err := cfg.EnsureDirectories()
	require.NoError(t, err)

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Deploy.PackagesDir} {
		_, err := os.Stat(dir)
		assert.NoError(t, err, "directory should exist: %s", dir)
	}

	_, err = os.Stat(cfg.Deploy.TargetDir)
	assert.True(t, os.IsNotExist(err), "target directory must not be created")
}

func clearEnvVars() {
	envVars := []string{
		"PORT", "HOST", "READ_TIMEOUT", "WRITE_TIMEOUT", "BODY_LIMIT",
		"FILESET_CACHE_SIZE", "FILESET_CACHE_TTL",
		"DATA_DIR", "STATE_FILE", "PRIORITY_FILE", "USAGE_DB",
		"CORS_ORIGINS",
		"LOG_LEVEL", "LOG_FORMAT",
		"TARGET_DIR", "PACKAGES_DIR", "STRATEGY", "METADATA_DIR", "IGNORE_PATTERNS",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func createValidConfig(tempDir string) *Config {
	cfg := &Config{}
	cfg.Server.Port = 8765
	cfg.Server.BodyLimit = 1048576
	cfg.Server.ReadTimeout = time.Second
	cfg.Server.WriteTimeout = time.Second
	cfg.Cache.MaxSize = 128
	cfg.Cache.TTL = time.Minute
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Storage.DataDir = tempDir + "/data"
	cfg.Storage.StateFile = "package_states.json"
	cfg.Storage.PriorityFile = "priorities.json"
	cfg.Storage.UsageDB = "usage.db"
	cfg.Security.CORSOrigins = []string{"*"}
	cfg.Deploy.PackagesDir = tempDir + "/mods"
	cfg.Deploy.Strategy = "copy"
	cfg.Deploy.MetadataDir = "modinfo"
	return cfg
}
