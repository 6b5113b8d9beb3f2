// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/amirphl/snowflake-id/app/dto"
	"github.com/amirphl/snowflake-id/app/handlers"
	"github.com/amirphl/snowflake-id/app/middleware"
	"github.com/amirphl/snowflake-id/config"
	"github.com/amirphl/snowflake-id/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cache"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
)

const (
	apiPrefix    = "/api/v1"
	healthPath   = apiPrefix + "/health"
	readyPath    = apiPrefix + "/ready"
	decodePrefix = apiPrefix + "/ids/"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	GetApp() *fiber.App
}

// Options configures the router beyond its handlers
type Options struct {
	Server     config.ServerConfig
	Metrics    config.MetricsConfig
	AccessLog  bool
	Version    string
	Deployment string
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app                 *fiber.App
	opts                Options
	snowflakeHandler    handlers.SnowflakeHandlerInterface
	provisioningHandler handlers.ProvisioningHandlerInterface
	authMiddleware      *middleware.AuthMiddleware
}

// NewFiberRouter creates a new Fiber router. authMiddleware may be nil, which disables admin routes.
func NewFiberRouter(
	opts Options,
	snowflakeHandler handlers.SnowflakeHandlerInterface,
	provisioningHandler handlers.ProvisioningHandlerInterface,
	authMiddleware *middleware.AuthMiddleware,
) Router {
	bodyLimit := opts.Server.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 64 * 1024
	}

	app := fiber.New(fiber.Config{
		AppName:      "Snowflake ID Service",
		ServerHeader: "snowflake-id",
		ErrorHandler: errorHandler,
		BodyLimit:    bodyLimit,
		ReadTimeout:  opts.Server.ReadTimeout,
		WriteTimeout: opts.Server.WriteTimeout,
		IdleTimeout:  opts.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:                 app,
		opts:                opts,
		snowflakeHandler:    snowflakeHandler,
		provisioningHandler: provisioningHandler,
		authMiddleware:      authMiddleware,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	r.setupMiddleware()

	if r.opts.Metrics.Enabled {
		r.app.Get(r.metricsPath(), middleware.MetricsHandler())
	}

	api := r.app.Group(apiPrefix)

	// Health and readiness (no rate limiting)
	api.Get("/health", r.healthCheck)
	api.Get("/ready", r.provisioningHandler.Ready)

	if r.opts.Server.GlobalRateLimit > 0 {
		api.Use(newLimiter(r.opts.Server.GlobalRateLimit, r.opts.Server.RateLimitWindow, func(c fiber.Ctx) bool {
			return c.Path() == healthPath || c.Path() == readyPath
		}))
	}

	api.Post("/entities/:entity/ids", r.snowflakeHandler.GenerateIDs)
	api.Get("/ids/:id", r.snowflakeHandler.DecodeID)

	if r.opts.Server.EnableAdminAPI && r.authMiddleware != nil {
		admin := api.Group("/admin")
		admin.Use(newLimiter(20, time.Minute, nil))
		admin.Use(r.authMiddleware.AdminAuthenticate())
		admin.Post("/provision", r.provisioningHandler.Provision)
	}

	// Not found handler
	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

func (r *FiberRouter) metricsPath() string {
	if r.opts.Metrics.Path == "" {
		return "/metrics"
	}
	return r.opts.Metrics.Path
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Recovery middleware with custom error handling
	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Printf(`{"time":"%s","level":"error","request_id":"%s","event":"panic","error":"%v","path":"%s","method":"%s","ip":"%s"}`,
				utils.UTCNow().Format(time.RFC3339),
				c.GetRespHeader("X-Request-ID"),
				e,
				c.Path(),
				c.Method(),
				c.IP(),
			)
		},
	}))

	// Request ID middleware
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return uuid.NewString()
		},
	}))

	if r.opts.Metrics.Enabled {
		r.app.Use(middleware.Metrics(r.metricsPath()))
	}

	// Security headers middleware
	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "0",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000, // 1 year
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none';",
		ReferrerPolicy:            "no-referrer",
		CrossOriginResourcePolicy: "same-site",
	}))

	// CORS middleware
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: r.opts.Server.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Request-ID",
		},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        86400,
	}))

	if r.opts.Server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.LevelBestSpeed,
		}))
	}

	// Decoding is a pure function of the id; everything else must reach the counter store
	r.app.Use(cache.New(cache.Config{
		Next: func(c fiber.Ctx) bool {
			return c.Method() != fiber.MethodGet || !strings.HasPrefix(c.Path(), decodePrefix)
		},
		Expiration:          30 * time.Minute,
		DisableCacheControl: false,
	}))

	if r.opts.AccessLog {
		r.app.Use(logger.New(logger.Config{
			Format:     `{"time":"${time}","pid":"${pid}","request_id":"${respHeader:X-Request-ID}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","user_agent":"${ua}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Next: func(c fiber.Ctx) bool {
				return c.Path() == healthPath || c.Path() == readyPath || c.Path() == r.metricsPath()
			},
		}))
	}
}

func newLimiter(max int, window time.Duration, next func(c fiber.Ctx) bool) fiber.Handler {
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: next,
	})
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// Health check endpoint
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":      "ok",
			"timestamp":   utils.UTCNow().Unix(),
			"version":     r.opts.Version,
			"environment": r.opts.Deployment,
			"service":     "snowflake-id",
		},
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
				"request_id": c.GetRespHeader("X-Request-ID"),
			},
		},
	})
}

// Global error handler
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"
	errorCode := "INTERNAL_ERROR"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		if code < fiber.StatusInternalServerError {
			message = e.Message
			errorCode = "REQUEST_ERROR"
		}
	}

	log.Printf("Error %d: %v", code, err)

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: errorCode,
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": c.GetRespHeader("X-Request-ID"),
			},
		},
	})
}
