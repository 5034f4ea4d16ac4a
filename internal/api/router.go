package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/bisect"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/middleware"
)

// RouterConfig contains configuration for the HTTP router
type RouterConfig struct {
	CORSOrigins    []string
	BodyLimit      int
	RateLimitRPS   int
	RateLimitBurst int
}

// RouterDependencies contains all dependencies needed by the router
type RouterDependencies struct {
	Manager       PackageManager
	Priorities    domain.PriorityRepository
	Usage         UsageReader // optional
	HealthChecker domain.HealthChecker
	Isolator      *bisect.Isolator
	Metrics       http.Handler // optional
}

// RouterResult contains the configured app and cleanup function
type RouterResult struct {
	App     *fiber.App
	Cleanup func()
}

// SetupRouterWithDeps creates and configures the Fiber app with all dependencies
func SetupRouterWithDeps(deps RouterDependencies, config RouterConfig) *RouterResult {
	app := fiber.New(fiber.Config{
		BodyLimit:    config.BodyLimit,
		ErrorHandler: customErrorHandler,
	})

	handlers := NewHandlers(deps.Manager, deps.Priorities, deps.Usage, deps.HealthChecker)
	bisectHandlers := NewBisectHandlers(deps.Isolator, handlers)

	// request id first so every later log line carries it
	app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: generateUUID,
	}))
	app.Use(structuredLoggingMiddleware())
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			log.Error().
				Str("request_id", requestID(c)).
				Interface("panic", e).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Msg("Panic recovered")
		},
	}))

	app.Use(securityHeadersMiddleware())

	// deploy routes get a tighter budget than reads
	var stopRateLimiter func()
	if config.RateLimitRPS > 0 {
		rateLimiter := middleware.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst)
		stopRateLimiter = rateLimiter.StartCleanupRoutine()
		app.Use(rateLimiter.Middleware())
	}

	if len(config.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(config.CORSOrigins, ","),
			AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
			AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID,X-API-Key",
			AllowCredentials: false,
			MaxAge:           86400, // 24 hours
		}))
	}

	v1 := app.Group("/v1")
	registerPackageRoutes(v1, handlers)
	registerConflictRoutes(v1, handlers)
	if deps.Isolator != nil {
		registerBisectRoutes(v1, bisectHandlers)
	}

	app.Get("/health", handlers.HealthHandler)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	app.Get("/swagger/*", swagger.HandlerDefault)

	cleanup := func() {
		if stopRateLimiter != nil {
			stopRateLimiter()
		}
	}

	return &RouterResult{App: app, Cleanup: cleanup}
}

// registerPackageRoutes wires the package listing and deployment routes.
// Fixed paths are registered before /:name so they are not taken for a package.
func registerPackageRoutes(v1 fiber.Router, h *Handlers) {
	packages := v1.Group("/packages")
	packages.Get("/", h.ListPackagesHandler)
	packages.Post("/enable-all", h.EnableAllHandler)
	packages.Post("/disable-all", h.DisableAllHandler)
	packages.Get("/:name", h.GetPackageHandler)
	packages.Delete("/:name", h.UninstallHandler)
	packages.Get("/:name/integrity", h.IntegrityHandler)
	packages.Post("/:name/manifest", h.RecordManifestHandler)
	packages.Patch("/:name/state", h.UpdateFlagsHandler)
	packages.Post("/:name/enable", h.EnableHandler)
	packages.Post("/:name/disable", h.DisableHandler)

	v1.Get("/strategy", h.GetStrategyHandler)
	v1.Put("/strategy", h.SetStrategyHandler)
	v1.Get("/target/owner", h.OwnerHandler)
	v1.Get("/usage", h.UsageHandler)
}

func registerConflictRoutes(v1 fiber.Router, h *Handlers) {
	v1.Post("/conflicts/check", h.CheckBatchHandler)
	v1.Get("/conflicts/:name", h.ConflictsHandler)
	v1.Get("/priorities", h.ListPrioritiesHandler)
	v1.Put("/priorities", h.SavePriorityHandler)
	v1.Delete("/priorities/:key", h.DeletePriorityHandler)
}

func registerBisectRoutes(v1 fiber.Router, h *BisectHandlers) {
	bisect := v1.Group("/bisect")
	bisect.Get("/", h.ActiveHandler)
	bisect.Post("/", h.StartHandler)
	bisect.Get("/:id", h.GetHandler)
	bisect.Post("/:id/step", h.StepHandler)
	bisect.Post("/:id/disable-all", h.DisableAllHandler)
	bisect.Post("/:id/cancel", h.CancelHandler)
}

// customErrorHandler maps errors fiber raises itself (unknown route, body too large) to the API error shape
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	switch code {
	case fiber.StatusRequestEntityTooLarge:
		return c.Status(413).JSON(ErrorResponse{
			Status:  "error",
			Code:    domain.ErrTooLarge,
			Message: "Request payload too large",
		})
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return c.Status(code).JSON(ErrorResponse{
			Status:  "error",
			Code:    domain.ErrNotFound,
			Message: message,
		})
	case fiber.StatusBadRequest:
		return c.Status(400).JSON(ErrorResponse{
			Status:  "error",
			Code:    domain.ErrInvalidInput,
			Message: message,
		})
	default:
		return c.Status(code).JSON(ErrorResponse{
			Status:  "error",
			Code:    domain.ErrInternal,
			Message: message,
		})
	}
}

// generateUUID generates a UUID v4 for request tracking
func generateUUID() string {
	return uuid.New().String()
}

// structuredLoggingMiddleware logs one line per request. Client errors log at
// warn and server errors at error; health and metrics probes only at debug.
func structuredLoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		case c.Path() == "/health" || c.Path() == "/metrics":
			event = log.Debug()
		default:
			event = log.Info()
		}

		event = event.
			Str("request_id", requestID(c)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.IP())
		if name, perr := packageName(c); perr == nil {
			event = event.Str("package", name)
		}
		event.Msg("HTTP request processed")

		return err
	}
}

// securityHeadersMiddleware adds security headers
func securityHeadersMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		return c.Next()
	}
}
