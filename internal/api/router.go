// Package api assembles the Fiber application: middleware, routes and their handlers.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/rfp-agent/backend/internal/api/handlers"
	"github.com/rfp-agent/backend/internal/metrics"
	"github.com/rfp-agent/backend/internal/middleware/ratelimit"
	"github.com/rfp-agent/backend/internal/middleware/security"
	"github.com/rfp-agent/backend/internal/middleware/validation"
	"github.com/rfp-agent/backend/pkg/config"
	"github.com/rfp-agent/backend/pkg/logger"
)

type RFPWorkflow interface {
	handlers.RFPGenerator
	handlers.RFPService
}

type Deps struct {
	RFPs        RFPWorkflow
	Runner      handlers.PassRunner
	Proposals   handlers.ProposalLister
	Recommender handlers.Recommender
	Events      handlers.EventSource
	// Readiness lists the dependencies /api/ready pings.
	Readiness map[string]handlers.Pinger
}

// NewApp builds the HTTP app. The returned func releases middleware resources and should be
// called after the app has shut down.
func NewApp(server config.ServerConfig, limits config.RateLimitConfig, deps Deps) (*fiber.App, func()) {
	app := fiber.New(fiber.Config{
		AppName:      "rfp-agent",
		ReadTimeout:  time.Duration(server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(server.WriteTimeout) * time.Second,
		BodyLimit:    server.BodyLimit,
	})

	origins := server.AllowedOrigins
	if origins == "" {
		origins = "*"
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: strings.Split(origins, ","),
		IsDevelopment:  server.IsDevelopment,
	}))

	validationCfg := validation.Config{
		MaxChatTextLength: limits.MaxChatTextLength,
		Logger:            logger.GetLogger(),
	}
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: limits.ChatRequestsPerMinute,
		Logger:               logger.GetLogger(),
	})

	chat := handlers.NewChatHandler(deps.RFPs)
	rfps := handlers.NewRFPHandler(deps.RFPs)
	vendor := handlers.NewVendorHandler(deps.Runner, deps.Proposals, deps.Recommender)
	ws := handlers.NewWebSocketHandler(deps.Events)
	health := handlers.NewHealthHandler(deps.Readiness)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api", validation.ContentType(validationCfg))

	api.Get("/health", health.Health)
	api.Get("/ready", health.Ready)

	api.Post("/chat", limiter.Middleware(), validation.ChatRequest(validationCfg), chat.HandleChat)

	api.Get("/rfps/vendors", rfps.ListVendors)
	api.Post("/rfps/confirm", rfps.Confirm)
	api.Get("/rfps/:id", rfps.GetRFP)
	api.Get("/rfps", rfps.ListRFPs)

	api.Get("/vendor/process", vendor.Process)
	api.Get("/vendor/proposals/:rfpId", vendor.Proposals)
	api.Get("/vendor/recommendation/:rfpId", vendor.Recommendation)
	api.Get("/vendor/events", ws.Upgrade, websocket.New(ws.HandleConnection))

	return app, limiter.Stop
}
