package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// Config holds all configuration for the mod manager engine and its control API
type Config struct {
	Server struct {
		Port         int           `env:"PORT" envDefault:"8765" validate:"min=1,max=65535"`
		Host         string        `env:"HOST" envDefault:"127.0.0.1"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"2m"`                    // deploys walk whole packages
		BodyLimit    int           `env:"BODY_LIMIT" envDefault:"1048576" validate:"min=1"` // 1MB
	}

	Deploy DeployConfig

	Storage struct {
		DataDir      string `env:"DATA_DIR" envDefault:"./data"`
		StateFile    string `env:"STATE_FILE" envDefault:"package_states.json"`
		PriorityFile string `env:"PRIORITY_FILE" envDefault:"priorities.json"`
		UsageDB      string `env:"USAGE_DB" envDefault:"usage.db"`
	}

	Cache struct {
		MaxSize int           `env:"FILESET_CACHE_SIZE" envDefault:"512" validate:"min=1"`
		TTL     time.Duration `env:"FILESET_CACHE_TTL" envDefault:"30s"`
	}

	Security struct {
		CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:"," validate:"cors_origins"`
		RateLimitRPS   int      `env:"RATE_LIMIT_RPS" envDefault:"20" validate:"min=0"` // 0 disables
		RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"40" validate:"min=0"`
	}

	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
		Format string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
	}
}

// DeployConfig holds the settings the deployment engine reads
type DeployConfig struct {
	// TargetDir may be empty at startup; deploys fail fast until it is set.
	TargetDir      string   `env:"TARGET_DIR"`
	PackagesDir    string   `env:"PACKAGES_DIR" envDefault:"./mods"`
	Strategy       string   `env:"STRATEGY" envDefault:"copy" validate:"strategy"`
	MetadataDir    string   `env:"METADATA_DIR" envDefault:"modinfo" validate:"required,excludesall=/\\"`
	IgnorePatterns []string `env:"IGNORE_PATTERNS" envSeparator:"," validate:"glob_patterns"`
}

// Load loads configuration from environment variables and .env files
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration using struct tags
func Validate(cfg *Config) error {
	validator := validator.New()

	if err := validator.RegisterValidation("cors_origins", validateCORSOrigins); err != nil {
		return fmt.Errorf("failed to register cors_origins validation: %w", err)
	}
	if err := validator.RegisterValidation("strategy", validateStrategy); err != nil {
		return fmt.Errorf("failed to register strategy validation: %w", err)
	}
	if err := validator.RegisterValidation("glob_patterns", validateGlobPatterns); err != nil {
		return fmt.Errorf("failed to register glob_patterns validation: %w", err)
	}

	if err := validator.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCORSOrigins validates CORS origins format
func validateCORSOrigins(fl validator.FieldLevel) bool {
	origins := fl.Field().Interface().([]string)
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return false
		}
	}
	return true
}

func validateStrategy(fl validator.FieldLevel) bool {
	_, err := domain.ParseStrategy(fl.Field().String())
	return err == nil
}

func validateGlobPatterns(fl validator.FieldLevel) bool {
	patterns := fl.Field().Interface().([]string)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return false
		}
	}
	return true
}

// validateCustomRules performs additional validation beyond struct tags
func validateCustomRules(cfg *Config) error {
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if cfg.Deploy.PackagesDir == "" {
		return fmt.Errorf("packages directory cannot be empty")
	}

	if cfg.Server.ReadTimeout < time.Millisecond {
		return fmt.Errorf("read timeout must be at least 1ms")
	}
	if cfg.Server.WriteTimeout < time.Millisecond {
		return fmt.Errorf("write timeout must be at least 1ms")
	}
	if cfg.Cache.TTL < time.Second {
		return fmt.Errorf("file set cache TTL must be at least 1 second")
	}

	if cfg.Deploy.TargetDir != "" {
		same, err := overlaps(cfg.Deploy.TargetDir, cfg.Deploy.PackagesDir)
		if err != nil {
			return err
		}
		if same {
			return fmt.Errorf("target directory and packages directory must not contain each other")
		}
	}

	return nil
}

// overlaps reports whether either directory is inside the other
func overlaps(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, fmt.Errorf("cannot resolve %s: %w", a, err)
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, fmt.Errorf("cannot resolve %s: %w", b, err)
	}
	within := func(parent, child string) bool {
		rel, err := filepath.Rel(parent, child)
		return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
	}
	return within(absA, absB) || within(absB, absA), nil
}

// DeploymentStrategy returns the parsed global strategy
func (cfg *Config) DeploymentStrategy() domain.Strategy {
	s, err := domain.ParseStrategy(cfg.Deploy.Strategy)
	if err != nil {
		return domain.StrategyCopy
	}
	return s
}

// StatePath returns the package state file location
func (cfg *Config) StatePath() string {
	return cfg.dataPath(cfg.Storage.StateFile)
}

// PriorityPath returns the priority order file location
func (cfg *Config) PriorityPath() string {
	return cfg.dataPath(cfg.Storage.PriorityFile)
}

// UsageDBPath returns the usage history database location
func (cfg *Config) UsageDBPath() string {
	return cfg.dataPath(cfg.Storage.UsageDB)
}

func (cfg *Config) dataPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(cfg.Storage.DataDir, name)
}

// EnsureDirectories creates all required directories.
// The target directory is never created: a missing target must fail deploys.
func (cfg *Config) EnsureDirectories() error {
	dirs := []string{
		cfg.Storage.DataDir,
		cfg.Deploy.PackagesDir,
	}

	for _, dir := range dirs {
		if dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("cannot create directory %s: %w", dir, err)
			}
		}
	}
	return nil
}

// formatValidationError formats validation errors into readable messages
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, e := range validationErrors {
			switch e.Tag() {
			case "required":
				messages = append(messages, fmt.Sprintf("%s is required", e.Field()))
			case "min":
				messages = append(messages, fmt.Sprintf("%s must be at least %s", e.Field(), e.Param()))
			case "max":
				messages = append(messages, fmt.Sprintf("%s must be at most %s", e.Field(), e.Param()))
			case "oneof":
				messages = append(messages, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
			case "cors_origins":
				messages = append(messages, fmt.Sprintf("%s contains invalid origin format", e.Field()))
			case "strategy":
				messages = append(messages, fmt.Sprintf("%s must be copy or link", e.Field()))
			case "glob_patterns":
				messages = append(messages, fmt.Sprintf("%s contains an invalid glob pattern", e.Field()))
			case "excludesall":
				messages = append(messages, fmt.Sprintf("%s must be a single folder name", e.Field()))
			default:
				messages = append(messages, fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag()))
			}
		}
		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}
	return err
}
