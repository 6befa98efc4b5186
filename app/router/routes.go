// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/amirphl/signage-publisher/app/dto"
	"github.com/amirphl/signage-publisher/app/handlers"
	"github.com/amirphl/signage-publisher/app/middleware"
	"github.com/amirphl/signage-publisher/config"
	"github.com/amirphl/signage-publisher/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthPath = "/api/v1/health"

// HealthCheck probes one dependency; a nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// Dependencies collects what the routes serve.
type Dependencies struct {
	Assets  handlers.AssetHandlerInterface
	Publish handlers.PublishHandlerInterface
	Queue   handlers.QueueHandlerInterface

	Checks       map[string]HealthCheck
	WorkerStatus func() any
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app  *fiber.App
	deps Dependencies
	cfg  *config.ProductionConfig
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(cfg *config.ProductionConfig, deps Dependencies) Router {
	bodyLimit := cfg.Server.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 512 * 1024 * 1024
	}
	app := fiber.New(fiber.Config{
		AppName:      "Signage Publisher API",
		ServerHeader: "signage-publisher",
		ErrorHandler: errorHandler,
		BodyLimit:    bodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{app: app, deps: deps, cfg: cfg}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	r.setupMiddleware()

	if r.cfg.Metrics.Enabled {
		path := r.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.app.Get(path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting)
	api.Get("/health", r.healthCheck)

	api.Use(limiter.New(limiter.Config{
		Max:        r.rateLimit(),
		Expiration: r.rateLimitWindow(),
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code:       "RATE_LIMIT_EXCEEDED",
					NextAction: "retry",
				},
			})
		},
		Next: func(c fiber.Ctx) bool {
			return c.Path() == healthPath
		},
	}))

	assets := api.Group("/assets")
	assets.Post("/", r.deps.Assets.Register)
	assets.Get("/:id", r.deps.Assets.Get)
	assets.Post("/:id/validate", r.deps.Assets.Validate)
	assets.Post("/:id/normalize", r.deps.Assets.Normalize)
	assets.Post("/:id/upload", r.deps.Assets.Upload)

	api.Get("/uploads/:correlation_id", r.deps.Assets.GetUploadJob)
	api.Get("/advertisers/:id/canonical-asset", r.deps.Assets.CanonicalAsset)

	publish := api.Group("/publish")
	publish.Post("/enqueue", r.deps.Publish.Enqueue)
	publish.Post("/now", r.deps.Publish.PublishNow)
	publish.Get("/traces/:correlation_id", r.deps.Publish.Traces)

	screens := api.Group("/screens")
	screens.Get("/:id/health", r.deps.Publish.ScreenHealth)
	screens.Post("/:id/repair", r.deps.Publish.RepairScreen)

	api.Post("/playlists/ensure-non-empty", r.deps.Publish.EnsureNonEmpty)

	queue := api.Group("/queue")
	queue.Get("/stats", r.deps.Queue.Stats)
	queue.Get("/items", r.deps.Queue.List)
	queue.Get("/items/:id", r.deps.Queue.Get)
	queue.Post("/items/:id/retry", r.deps.Queue.Retry)
	queue.Post("/items/:id/cancel", r.deps.Queue.Cancel)

	// Not found handler
	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return uuid.New().String()
		},
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Printf(`{"time":"%s","level":"error","request_id":"%s","event":"panic","error":"%v","path":"%s","method":"%s","ip":"%s"}`,
				utils.UTCNow().Format(time.RFC3339),
				c.Locals("requestid"),
				e,
				c.Path(),
				c.Method(),
				c.IP(),
			)
		},
	}))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      r.securityValue(r.cfg.Security.XFrameOptions, "DENY"),
		ReferrerPolicy:     r.securityValue(r.cfg.Security.ReferrerPolicy, "strict-origin-when-cross-origin"),
	}))

	allowOrigins := r.cfg.Security.AllowedOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	maxAge := r.cfg.Security.CORSMaxAge
	if maxAge <= 0 {
		maxAge = utils.CORSMaxAge
	}
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Request-ID",
		},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: r.cfg.Security.AllowCredentials && allowOrigins[0] != "*",
		MaxAge:           maxAge,
	}))

	r.app.Use(middleware.Metrics())

	if r.cfg.Logging.EnableAccessLog {
		r.app.Use(logger.New(logger.Config{
			Format:     `{"time":"${time}","pid":"${pid}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Next: func(c fiber.Ctx) bool {
				return c.Path() == healthPath
			},
		}))
	}
}

func (r *FiberRouter) Start(address string) error {
	log.Printf("Starting server on %s", address)
	return r.app.Listen(address)
}

func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) rateLimit() int {
	if r.cfg.Security.GlobalRateLimit > 0 {
		return r.cfg.Security.GlobalRateLimit
	}
	return 600
}

func (r *FiberRouter) rateLimitWindow() time.Duration {
	if r.cfg.Security.RateLimitWindow > 0 {
		return r.cfg.Security.RateLimitWindow
	}
	return time.Minute
}

func (r *FiberRouter) securityValue(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// healthCheck reports every dependency probe and the worker state. Any failing probe
// turns the response into a 503.
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	checks := fiber.Map{}
	healthy := true
	for name, check := range r.deps.Checks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = fiber.Map{"status": "down", "error": err.Error()}
			continue
		}
		checks[name] = fiber.Map{"status": "up"}
	}

	data := fiber.Map{
		"status":    "ok",
		"timestamp": utils.UTCNow().Unix(),
		"version":   r.cfg.Deployment.Version,
		"service":   "signage-publisher",
		"checks":    checks,
	}
	if r.deps.WorkerStatus != nil {
		data["worker"] = r.deps.WorkerStatus()
	}

	if !healthy {
		data["status"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.APIResponse{
			Success: false,
			Message: "Service is degraded",
			Data:    data,
		})
	}
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data:    data,
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": c.Locals("requestid"),
			},
		},
	})
}

// Global error handler
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	log.Printf("Error %d: %v", code, err)

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: "INTERNAL_ERROR",
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": c.Locals("requestid"),
			},
		},
	})
}
