package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/confmesh/confmesh/pkg/api"
	"github.com/confmesh/confmesh/pkg/providers"
)

// ApiServer is the local control HTTP server using Fiber
type ApiServer struct {
	app       *fiber.App
	providers *providers.Registry
}

// New creates a new HTTP server with the given service registry
func New(p *providers.Registry) *ApiServer {
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	s := &ApiServer{
		app:       app,
		providers: p,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *ApiServer) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(fiberlogger.New())
}

func (s *ApiServer) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
}

// App returns the underlying Fiber app for route registration
func (s *ApiServer) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *ApiServer) Start(addr string) error {
	s.providers.Logger().Printf("Starting control server on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *ApiServer) Shutdown(ctx context.Context) error {
	s.providers.Logger().Println("Server shutdown requested")
	return s.app.ShutdownWithContext(ctx)
}

// handleHealth handles health checks
func (s *ApiServer) handleHealth(c *fiber.Ctx) error {
	return api.SuccessResp(c, fiber.Map{
		"status":  "healthy",
		"version": s.providers.Config().Version,
	})
}

// customErrorHandler handles errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		status = e.Code
	}

	return c.Status(status).JSON(api.ApiResponse{
		Success: false,
		Error: &api.ApiError{
			Status:  status,
			Message: err.Error(),
		},
	})
}
