package api

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

// PackageManager is the package side of the manager the API drives
type PackageManager interface {
	List(ctx context.Context) ([]domain.PackageInfo, error)
	Info(ctx context.Context, name string) (domain.PackageInfo, error)
	Integrity(ctx context.Context, name string) (domain.IntegrityReport, error)
	RecordManifest(ctx context.Context, name string) (*domain.Manifest, error)
	SetFlags(ctx context.Context, name string, favorite, ignored *bool) (domain.PackageState, error)
	Enable(ctx context.Context, name string, decider domain.DecisionProvider) (domain.EnableOutcome, error)
	Disable(ctx context.Context, name string) (domain.ApplyResult, error)
	EnableAll(ctx context.Context, decider domain.DecisionProvider) ([]domain.EnableOutcome, error)
	DisableAll(ctx context.Context) ([]domain.ApplyResult, error)
	Uninstall(ctx context.Context, name string) error
	ValidateBatch(ctx context.Context, names []string) ([]domain.PathConflict, error)
	Conflicts(ctx context.Context, name string) (domain.ConflictReport, error)
	Owner(ctx context.Context, rel string) (string, bool, error)
	Strategy() domain.Strategy
	SetStrategy(ctx context.Context, strategy domain.Strategy) (domain.ConversionResult, error)
}

// UsageReader reads the usage history
type UsageReader interface {
	Recent(ctx context.Context, pkg string, limit int) ([]domain.UsageEvent, error)
	Summaries(ctx context.Context) ([]domain.UsageSummary, error)
}

// Handlers contains all HTTP handlers for the mod manager API
type Handlers struct {
	manager       PackageManager
	priorities    domain.PriorityRepository
	usage         UsageReader
	healthChecker domain.HealthChecker
	validate      *validator.Validate
}

// NewHandlers creates a new instance of API handlers. usage may be nil.
func NewHandlers(manager PackageManager, priorities domain.PriorityRepository, usage UsageReader, healthChecker domain.HealthChecker) *Handlers {
	return &Handlers{
		manager:       manager,
		priorities:    priorities,
		usage:         usage,
		healthChecker: healthChecker,
		validate:      validator.New(),
	}
}

// ErrorResponse represents the standard error response format
// @Description Standard error response format
type ErrorResponse struct {
	Status  string `json:"status" example:"error"`
	Code    string `json:"code" example:"CONFLICT_DETECTED"`
	Message string `json:"message" example:"package conflicts with enabled packages"`
	Details any    `json:"details,omitempty"`
}

// SuccessResponse represents the standard success response format
// @Description Standard success response format
type SuccessResponse struct {
	Status string `json:"status" example:"success"`
	Data   any    `json:"data"`
}

// PackageListResponse represents the response for listing packages
// @Description Installed packages with their flags
type PackageListResponse struct {
	Packages []domain.PackageInfo `json:"packages"`
	Count    int                  `json:"count" example:"12"`
	Enabled  int                  `json:"enabled" example:"4"`
}

// PackageDetailResponse is one package with its integrity report
// @Description Package detail
type PackageDetailResponse struct {
	Package   domain.PackageInfo     `json:"package"`
	Integrity domain.IntegrityReport `json:"integrity"`
}

// FlagsRequest updates favorite and ignored flags; omitted fields are unchanged
// @Description Package flag update
type FlagsRequest struct {
	Favorite *bool `json:"favorite,omitempty" example:"true"`
	Ignored  *bool `json:"ignored,omitempty" example:"false"`
}

// BatchRequest names a set of packages
// @Description Package batch
type BatchRequest struct {
	Packages []string `json:"packages" validate:"required,min=2,dive,required" example:"Better Lighting,HD Textures"`
}

// StrategyRequest selects the deployment strategy
// @Description Deployment strategy change
type StrategyRequest struct {
	Strategy string `json:"strategy" validate:"required,oneof=copy link" example:"link"`
}

// PriorityRequest stores a priority order, most favored first
// @Description Priority order
type PriorityRequest struct {
	Order []string `json:"order" validate:"required,min=2,dive,required" example:"HD Textures,Better Lighting"`
}

// requestID returns the id the requestid middleware stored
func requestID(c *fiber.Ctx) string {
	if rid, ok := c.Locals("requestid").(string); ok {
		return rid
	}
	return ""
}

// requestContext carries the request id into the layers below
func requestContext(c *fiber.Ctx) context.Context {
	return context.WithValue(c.UserContext(), domain.RequestIDKey, requestID(c))
}

// packageName returns the decoded :name parameter
func packageName(c *fiber.Ctx) (string, *domain.AppError) {
	name, err := url.PathUnescape(c.Params("name"))
	if err != nil || strings.TrimSpace(name) == "" {
		return "", domain.NewAppError(domain.ErrInvalidInput, "Invalid package name", 400,
			map[string]string{"name": c.Params("name")})
	}
	return name, nil
}

// ListPackagesHandler handles GET /v1/packages requests
// @Summary      List packages
// @Description  Lists every installed package with its enabled, favorite and ignored flags
// @Tags         Packages
// @Produce      json
// @Success      200 {object} SuccessResponse{data=PackageListResponse}
// @Failure      500 {object} ErrorResponse
// @Router       /v1/packages [get]
func (h *Handlers) ListPackagesHandler(c *fiber.Ctx) error {
	ctx := requestContext(c)

	packages, err := h.manager.List(ctx)
	if err != nil {
		return h.fail(c, err, "list_packages")
	}

	enabled := 0
	for _, p := range packages {
		if p.State.Enabled {
			enabled++
		}
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data: PackageListResponse{
			Packages: packages,
			Count:    len(packages),
			Enabled:  enabled,
		},
	})
}

// GetPackageHandler handles GET /v1/packages/:name requests
// @Summary      Package detail
// @Description  Returns a package's flags, manifest summary and current integrity
// @Tags         Packages
// @Produce      json
// @Param        name path string true "Package name"
// @Success      200 {object} SuccessResponse{data=PackageDetailResponse}
// @Failure      404 {object} ErrorResponse
// @Router       /v1/packages/{name} [get]
func (h *Handlers) GetPackageHandler(c *fiber.Ctx) error {
	ctx := requestContext(c)
	name, appErr := packageName(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	info, err := h.manager.Info(ctx, name)
	if err != nil {
		return h.fail(c, err, "get_package")
	}
	report, err := h.manager.Integrity(ctx, name)
	if err != nil {
		return h.fail(c, err, "get_package_integrity")
	}

	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data:   PackageDetailResponse{Package: info, Integrity: report},
	})
}

// IntegrityHandler handles GET /v1/packages/:name/integrity requests
// @Summary      Check integrity
// @Description  Compares the package tree against its manifest by path
// @Tags         Packages
// @Produce      json
// @Param        name path string true "Package name"
// @Success      200 {object} SuccessResponse{data=domain.IntegrityReport}
// @Failure      404 {object} ErrorResponse
// @Router       /v1/packages/{name}/integrity [get]
func (h *Handlers) IntegrityHandler(c *fiber.Ctx) error {
	name, appErr := packageName(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	report, err := h.manager.Integrity(requestContext(c), name)
	if err != nil {
		return h.fail(c, err, "integrity_check")
	}
	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: report})
}

// RecordManifestHandler handles POST /v1/packages/:name/manifest requests
// @Summary      Record manifest
// @Description  Snapshots the package's current tree as its manifest
// @Tags         Packages
// @Produce      json
// @Param        name path string true "Package name"
// @Success      200 {object} SuccessResponse{data=object{package=string,entries=int}}
// @Failure      404 {object} ErrorResponse
// @Router       /v1/packages/{name}/manifest [post]
func (h *Handlers) RecordManifestHandler(c *fiber.Ctx) error {
	name, appErr := packageName(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	manifest, err := h.manager.RecordManifest(requestContext(c), name)
	if err != nil {
		return h.fail(c, err, "record_manifest")
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data: map[string]any{
			"package":     manifest.Package,
			"entries":     len(manifest.Entries),
			"files":       manifest.FileCount(),
			"recorded_at": manifest.RecordedAt,
		},
	})
}

// UpdateFlagsHandler handles PATCH /v1/packages/:name/state requests
// @Summary      Update flags
// @Description  Sets the favorite and ignored flags of a package
// @Tags         Packages
// @Accept       json
// @Produce      json
// @Param        name path string true "Package name"
// @Param        request body FlagsRequest true "Flags to change"
// @Success      200 {object} SuccessResponse{data=domain.PackageState}
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /v1/packages/{name}/state [patch]
func (h *Handlers) UpdateFlagsHandler(c *fiber.Ctx) error {
	name, appErr := packageName(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	var req FlagsRequest
	if err := c.BodyParser(&req); err != nil {
		return h.invalidBody(c, err, "update_flags_parsing")
	}
	if req.Favorite == nil && req.Ignored == nil {
		return h.sendError(c, domain.NewAppError(domain.ErrValidationFailed, "favorite or ignored is required", 422, nil))
	}

	state, err := h.manager.SetFlags(requestContext(c), name, req.Favorite, req.Ignored)
	if err != nil {
		return h.fail(c, err, "update_flags")
	}
	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: state})
}

// DisableHandler handles POST /v1/packages/:name/disable requests
// @Summary      Disable package
// @Description  Removes a package's files from the target, handing shared paths to the next provider
// @Tags         Deployment
// @Produce      json
// @Param        name path string true "Package name"
// @Success      200 {object} SuccessResponse{data=domain.ApplyResult}
// @Failure      403 {object} ErrorResponse "Re-pointing links needs elevated rights"
// @Failure      404 {object} ErrorResponse
// @Failure      412 {object} ErrorResponse "Target directory unavailable"
// @Router       /v1/packages/{name}/disable [post]
func (h *Handlers) DisableHandler(c *fiber.Ctx) error {
	name, appErr := packageName(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	result, err := h.manager.Disable(requestContext(c), name)
	if err != nil {
		return h.fail(c, err, "disable_package")
	}
	if result.ElevationRequired {
		return h.sendError(c, domain.NewAppError(domain.ErrPrivilegeDenied,
			"re-pointing links needs elevated rights", 403,
			map[string]any{"result": result}))
	}
	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: result})
}

// UninstallHandler handles DELETE /v1/packages/:name requests
// @Summary      Uninstall package
// @Description  Disables the package if needed and deletes its folder, state and priority entries
// @Tags         Packages
// @Produce      json
// @Param        name path string true "Package name"
// @Success      200 {object} SuccessResponse{data=object{package=string}}
// @Failure      404 {object} ErrorResponse
// @Router       /v1/packages/{name} [delete]
func (h *Handlers) UninstallHandler(c *fiber.Ctx) error {
	name, appErr := packageName(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	if err := h.manager.Uninstall(requestContext(c), name); err != nil {
		return h.fail(c, err, "uninstall_package")
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data:   map[string]any{"package": name},
	})
}

// DisableAllHandler handles POST /v1/packages/disable-all requests
// @Summary      Disable all packages
// @Description  Disables every enabled package, most recently enabled first
// @Tags         Deployment
// @Produce      json
// @Success      200 {object} SuccessResponse{data=object{results=[]domain.ApplyResult}}
// @Failure      412 {object} ErrorResponse
// @Router       /v1/packages/disable-all [post]
func (h *Handlers) DisableAllHandler(c *fiber.Ctx) error {
	results, err := h.manager.DisableAll(requestContext(c))
	if err != nil {
		return h.fail(c, err, "disable_all")
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data:   map[string]any{"results": results, "count": len(results)},
	})
}

// CheckBatchHandler handles POST /v1/conflicts/check requests
// @Summary      Check a batch
// @Description  Reports every path shared by two packages of the batch
// @Tags         Conflicts
// @Accept       json
// @Produce      json
// @Param        request body BatchRequest true "Packages to compare"
// @Success      200 {object} SuccessResponse{data=object{conflicts=[]domain.PathConflict}}
// @Failure      422 {object} ErrorResponse
// @Router       /v1/conflicts/check [post]
func (h *Handlers) CheckBatchHandler(c *fiber.Ctx) error {
	var req BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return h.invalidBody(c, err, "check_batch_parsing")
	}
	if err := h.validate.Struct(req); err != nil {
		return h.invalid(c, err)
	}

	conflicts, err := h.manager.ValidateBatch(requestContext(c), req.Packages)
	if err != nil {
		return h.fail(c, err, "check_batch")
	}
	if conflicts == nil {
		conflicts = []domain.PathConflict{}
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data: map[string]any{
			"conflicts":    conflicts,
			"count":        len(conflicts),
			"has_conflict": len(conflicts) > 0,
		},
	})
}

// ConflictsHandler handles GET /v1/conflicts/:name requests
// @Summary      Conflicts against enabled
// @Description  Lists the enabled packages sharing at least one path with the package
// @Tags         Conflicts
// @Produce      json
// @Param        name path string true "Package name"
// @Success      200 {object} SuccessResponse{data=domain.ConflictReport}
// @Failure      404 {object} ErrorResponse
// @Router       /v1/conflicts/{name} [get]
func (h *Handlers) ConflictsHandler(c *fiber.Ctx) error {
	name, appErr := packageName(c)
	if appErr != nil {
		return h.sendError(c, appErr)
	}

	report, err := h.manager.Conflicts(requestContext(c), name)
	if err != nil {
		return h.fail(c, err, "conflicts_against_enabled")
	}
	return c.Status(200).JSON(SuccessResponse{Status: "success", Data: report})
}

// OwnerHandler handles GET /v1/target/owner requests
// @Summary      Path owner
// @Description  Reports which enabled package provides a target path
// @Tags         Deployment
// @Produce      json
// @Param        path query string true "Target-relative path"
// @Success      200 {object} SuccessResponse{data=object{path=string,owner=string,owned=bool}}
// @Failure      400 {object} ErrorResponse
// @Router       /v1/target/owner [get]
func (h *Handlers) OwnerHandler(c *fiber.Ctx) error {
	rel := strings.TrimSpace(c.Query("path"))
	if rel == "" {
		return h.sendError(c, domain.NewAppError(domain.ErrInvalidInput, "path query parameter is required", 400, nil))
	}

	owner, ok, err := h.manager.Owner(requestContext(c), rel)
	if err != nil {
		return h.fail(c, err, "path_owner")
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data:   map[string]any{"path": rel, "owner": owner, "owned": ok},
	})
}

// ListPrioritiesHandler handles GET /v1/priorities requests
// @Summary      List priority orders
// @Description  Lists every stored priority order by conflict group
// @Tags         Conflicts
// @Produce      json
// @Success      200 {object} SuccessResponse{data=object{groups=[]domain.ConflictGroup}}
// @Router       /v1/priorities [get]
func (h *Handlers) ListPrioritiesHandler(c *fiber.Ctx) error {
	groups := h.priorities.Groups()
	if groups == nil {
		groups = []domain.ConflictGroup{}
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data:   map[string]any{"groups": groups, "count": len(groups)},
	})
}

// SavePriorityHandler handles PUT /v1/priorities requests
// @Summary      Store a priority order
// @Description  Stores an order for the group formed by its members, replacing any previous order
// @Tags         Conflicts
// @Accept       json
// @Produce      json
// @Param        request body PriorityRequest true "Order, most favored first"
// @Success      200 {object} SuccessResponse{data=domain.ConflictGroup}
// @Failure      422 {object} ErrorResponse
// @Router       /v1/priorities [put]
func (h *Handlers) SavePriorityHandler(c *fiber.Ctx) error {
	var req PriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return h.invalidBody(c, err, "save_priority_parsing")
	}
	if err := h.validate.Struct(req); err != nil {
		return h.invalid(c, err)
	}

	order := domain.PriorityOrder(req.Order)
	if err := h.priorities.Save(requestContext(c), order); err != nil {
		return h.fail(c, err, "save_priority")
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data: domain.ConflictGroup{
			Key:     order.Key(),
			Members: domain.SplitKey(order.Key()),
			Order:   order,
		},
	})
}

// DeletePriorityHandler handles DELETE /v1/priorities/:key requests
// @Summary      Delete a priority order
// @Description  Deletes the order stored under a group key (sorted names joined by commas)
// @Tags         Conflicts
// @Produce      json
// @Param        key path string true "Group key"
// @Success      200 {object} SuccessResponse{data=object{key=string}}
// @Failure      404 {object} ErrorResponse
// @Router       /v1/priorities/{key} [delete]
func (h *Handlers) DeletePriorityHandler(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("key"))
	if err != nil || key == "" {
		return h.sendError(c, domain.NewAppError(domain.ErrInvalidInput, "Invalid group key", 400, nil))
	}

	if err := h.priorities.Delete(requestContext(c), key); err != nil {
		return h.fail(c, err, "delete_priority")
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data:   map[string]any{"key": key},
	})
}

// GetStrategyHandler handles GET /v1/strategy requests
// @Summary      Deployment strategy
// @Tags         Deployment
// @Produce      json
// @Success      200 {object} SuccessResponse{data=object{strategy=string}}
// @Router       /v1/strategy [get]
func (h *Handlers) GetStrategyHandler(c *fiber.Ctx) error {
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data:   map[string]any{"strategy": h.manager.Strategy()},
	})
}

// SetStrategyHandler handles PUT /v1/strategy requests
// @Summary      Change deployment strategy
// @Description  Switches between copy and link and saves the choice over the configured default; leaving link mode converts deployed links into copies
// @Tags         Deployment
// @Accept       json
// @Produce      json
// @Param        request body StrategyRequest true "New strategy"
// @Success      200 {object} SuccessResponse{data=object{strategy=string,conversion=domain.ConversionResult}}
// @Failure      422 {object} ErrorResponse
// @Router       /v1/strategy [put]
func (h *Handlers) SetStrategyHandler(c *fiber.Ctx) error {
	var req StrategyRequest
	if err := c.BodyParser(&req); err != nil {
		return h.invalidBody(c, err, "set_strategy_parsing")
	}
	req.Strategy = strings.ToLower(strings.TrimSpace(req.Strategy))
	if err := h.validate.Struct(req); err != nil {
		return h.invalid(c, err)
	}

	strategy, err := domain.ParseStrategy(req.Strategy)
	if err != nil {
		return h.fail(c, err, "set_strategy")
	}
	conversion, err := h.manager.SetStrategy(requestContext(c), strategy)
	if err != nil {
		return h.fail(c, err, "set_strategy")
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data:   map[string]any{"strategy": h.manager.Strategy(), "conversion": conversion},
	})
}

// UsageHandler handles GET /v1/usage requests
// @Summary      Usage history
// @Description  Returns recent enable, disable and uninstall events, optionally for one package
// @Tags         System
// @Produce      json
// @Param        package query string false "Package name"
// @Param        limit query int false "Maximum events" default(50)
// @Success      200 {object} SuccessResponse{data=object{events=[]domain.UsageEvent,summaries=[]domain.UsageSummary}}
// @Failure      503 {object} ErrorResponse "Usage history disabled"
// @Router       /v1/usage [get]
func (h *Handlers) UsageHandler(c *fiber.Ctx) error {
	if h.usage == nil {
		return h.sendError(c, domain.NewAppError(domain.ErrStorage, "Usage history is not available", 503, nil))
	}
	ctx := requestContext(c)

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 1000 {
		return h.sendError(c, domain.NewAppError(domain.ErrValidationFailed, "limit must be between 1 and 1000", 422,
			map[string]any{"limit": limit}))
	}

	events, err := h.usage.Recent(ctx, c.Query("package"), limit)
	if err != nil {
		return h.fail(c, err, "usage_recent")
	}
	summaries, err := h.usage.Summaries(ctx)
	if err != nil {
		return h.fail(c, err, "usage_summaries")
	}
	return c.Status(200).JSON(SuccessResponse{
		Status: "success",
		Data:   map[string]any{"events": events, "summaries": summaries},
	})
}

// HealthHandler handles GET /health requests
// @Summary      Health check
// @Description  Returns the health of the stores and the target directory
// @Tags         System
// @Produce      json
// @Success      200 {object} domain.SystemHealth "Service is healthy"
// @Failure      503 {object} domain.SystemHealth "Service is degraded or unhealthy"
// @Router       /health [get]
func (h *Handlers) HealthHandler(c *fiber.Ctx) error {
	health := h.healthChecker.CheckHealth(c.UserContext())

	status := 200
	if health.Status != domain.HealthStatusHealthy {
		status = 503
	}

	return c.Status(status).JSON(map[string]any{
		"status":     health.Status,
		"timestamp":  health.Timestamp.Format(time.RFC3339),
		"components": health.Components,
		"uptime":     health.Uptime.String(),
	})
}

// fail maps an error from the layers below to a response
func (h *Handlers) fail(c *fiber.Ctx, err error, operation string) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return h.sendError(c, appErr.WithContext(requestContext(c), operation))
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return h.sendError(c, domain.NewAppError(domain.ErrTimeout, "Request cancelled", 408, nil).
			WithContext(requestContext(c), operation))
	}

	log.Error().
		Err(err).
		Str("request_id", requestID(c)).
		Str("operation", operation).
		Msg("Request failed")

	return h.sendError(c, domain.NewAppError(domain.ErrInternal, "Internal server error", 500, nil).
		WithContext(requestContext(c), operation))
}

func (h *Handlers) invalidBody(c *fiber.Ctx, err error, operation string) error {
	return h.sendError(c, domain.NewAppError(
		domain.ErrInvalidInput,
		"Invalid JSON payload",
		400,
		map[string]string{"error": err.Error()},
	).WithContext(requestContext(c), operation))
}

// invalid reports struct validation failures field by field
func (h *Handlers) invalid(c *fiber.Ctx, err error) error {
	return h.sendError(c, validationError(err))
}

func validationError(err error) *domain.AppError {
	fields := map[string]string{}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
	}
	return domain.NewAppError(domain.ErrValidationFailed, "Validation failed", 422, fields)
}

// sendError sends a standardized error response
func (h *Handlers) sendError(c *fiber.Ctx, appErr *domain.AppError) error {
	return c.Status(appErr.StatusCode).JSON(ErrorResponse{
		Status:  "error",
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}
