package preferences

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/confmesh/confmesh/pkg/api"
	"github.com/confmesh/confmesh/pkg/models"
	"github.com/confmesh/confmesh/pkg/providers"
	"github.com/confmesh/confmesh/pkg/storage/repositories"
)

// Service exposes persisted device preferences over the control API.
type Service struct {
	repo     *repositories.PreferenceRepository
	registry *providers.Registry
}

// NewService creates a new preferences service instance
func NewService() *Service {
	return &Service{}
}

// Name returns the service name
func (s *Service) Name() string {
	return "preferences"
}

// Initialize wires the preference repository from the registry's storage
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	s.registry = registry

	type repoProvider interface {
		PreferenceRepo() *repositories.PreferenceRepository
	}
	if p, ok := registry.DB().(repoProvider); ok {
		s.repo = p.PreferenceRepo()
	} else {
		s.repo = repositories.NewPreferenceRepository(registry.DB().DB())
	}

	registry.Logger().Named("Preferences").Printf("Initialized successfully")
	return nil
}

func (s *Service) IsRunnable() bool {
	return false
}

func (s *Service) Start(ctx context.Context) error {
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	return nil
}

// Repo returns the preference repository for other services to share.
func (s *Service) Repo() *repositories.PreferenceRepository {
	return s.repo
}

// RegisterAPIRoutes adds preference endpoints
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	fiberApp, ok := app.(*fiber.App)
	if !ok {
		return fmt.Errorf("expected *fiber.App, got %T", app)
	}

	// GET /api/preferences - Current device preferences
	fiberApp.Get("/api/preferences", func(c *fiber.Ctx) error {
		pref, err := s.repo.Get()
		if err != nil {
			return api.ErrorInternalServerErrorResp(c, err.Error())
		}
		return api.SuccessResp(c, pref)
	})

	// PUT /api/preferences - Partial update of device preferences
	fiberApp.Put("/api/preferences", func(c *fiber.Ctx) error {
		var update models.DevicePreferenceUpdate
		if err := c.BodyParser(&update); err != nil {
			return api.ErrorBadRequestResp(c, "invalid request body")
		}

		pref, err := s.repo.Update(update)
		if err != nil {
			return api.ErrorInternalServerErrorResp(c, err.Error())
		}
		return api.SuccessResp(c, pref)
	})

	return nil
}
