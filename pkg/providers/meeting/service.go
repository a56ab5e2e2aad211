package meeting

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/confmesh/confmesh/pkg/api"
	"github.com/confmesh/confmesh/pkg/devices"
	"github.com/confmesh/confmesh/pkg/media"
	"github.com/confmesh/confmesh/pkg/meetings"
	"github.com/confmesh/confmesh/pkg/providers"
	"github.com/confmesh/confmesh/pkg/recorder"
	"github.com/confmesh/confmesh/pkg/session"
	"github.com/confmesh/confmesh/pkg/signaling"
	"github.com/confmesh/confmesh/pkg/storage/repositories"
)

// Service owns the meeting session controller and the capture pipeline
// behind it: device backend, preview manager, and recorder.
type Service struct {
	registry *providers.Registry
	backend  *devices.SyntheticBackend
	preview  *devices.PreviewManager
	session  *session.Controller
}

// NewService creates a new meeting service instance
func NewService() *Service {
	return &Service{}
}

// Name returns the service name
func (s *Service) Name() string {
	return "meeting"
}

// Initialize builds the capture pipeline and the session controller
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	s.registry = registry
	cfg := registry.Config()
	log := registry.Logger()

	type repoProvider interface {
		PreferenceRepo() *repositories.PreferenceRepository
	}
	var repo *repositories.PreferenceRepository
	if p, ok := registry.DB().(repoProvider); ok {
		repo = p.PreferenceRepo()
	} else {
		repo = repositories.NewPreferenceRepository(registry.DB().DB())
	}

	s.backend = devices.NewSyntheticBackend()
	s.preview = devices.NewPreviewManager(s.backend, s.backend, repo, log)

	meetingsClient := meetings.NewClient(cfg.MeetingAPIURL)
	rec := recorder.NewRecorder(meetingsClient, log)

	ctl, err := session.NewController(session.Config{
		SelfID:      cfg.NodeID,
		DisplayName: cfg.DisplayName,
		Channels: func() signaling.Channel {
			return signaling.NewClient(cfg.SignalingURL, log)
		},
		Meetings:    meetingsClient,
		Preview:     s.preview,
		Recorder:    rec,
		STUNServers: cfg.STUNServers,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("failed to create session controller: %w", err)
	}
	s.session = ctl

	log.Named("Meeting").Printf("Initialized successfully")
	return nil
}

func (s *Service) IsRunnable() bool {
	return false
}

func (s *Service) Start(ctx context.Context) error {
	return nil
}

// Stop leaves any active session before shutdown
func (s *Service) Stop(ctx context.Context) error {
	if s.session != nil {
		if err := s.session.Leave(ctx); err != nil {
			s.registry.Logger().Named("Meeting").Warn("Leave during shutdown: %v", err)
		}
	}
	s.registry.Logger().Named("Meeting").Printf("Stopped")
	return nil
}

// Session returns the session controller
func (s *Service) Session() *session.Controller {
	return s.session
}

// RegisterAPIRoutes adds session and device endpoints
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	fiberApp, ok := app.(*fiber.App)
	if !ok {
		return fmt.Errorf("expected *fiber.App, got %T", app)
	}

	sessionAPI := fiberApp.Group("/api/session")

	// POST /api/session/join - Join a room, creating the meeting if needed
	sessionAPI.Post("/join", func(c *fiber.Ctx) error {
		var body struct {
			RoomID string `json:"room_id"`
		}
		if err := c.BodyParser(&body); err != nil {
			return api.ErrorBadRequestResp(c, "invalid request body")
		}
		if body.RoomID == "" {
			return api.ErrorBadRequestResp(c, "room_id is required")
		}

		if err := s.session.Join(c.Context(), body.RoomID); err != nil {
			if err == session.ErrAlreadyInSession {
				return api.ErrorConflictResp(c, err.Error())
			}
			return api.ErrorInternalServerErrorResp(c, err.Error())
		}

		return api.SuccessResp(c, fiber.Map{
			"state":   s.session.State(),
			"room_id": s.session.RoomID(),
		})
	})

	// POST /api/session/leave - Leave the active session (no-op in lobby)
	sessionAPI.Post("/leave", func(c *fiber.Ctx) error {
		resp := fiber.Map{"state": session.StateLobby}
		if err := s.session.Leave(c.Context()); err != nil {
			// The session is down either way; report the upload problem.
			resp["upload_error"] = err.Error()
		}
		return api.SuccessResp(c, resp)
	})

	// GET /api/session - Current session state
	sessionAPI.Get("/", func(c *fiber.Ctx) error {
		state := s.session.State()
		resp := fiber.Map{"state": state}
		if state == session.StateActive {
			resp["room_id"] = s.session.RoomID()
			resp["started_at"] = s.session.StartedAt()
		}
		return api.SuccessResp(c, resp)
	})

	// GET /api/session/participants - Roster, empty outside a session
	sessionAPI.Get("/participants", func(c *fiber.Ctx) error {
		return api.SuccessResp(c, fiber.Map{
			"participants": s.session.Participants(),
		})
	})

	// GET /api/session/speaking - Ids of currently speaking participants
	sessionAPI.Get("/speaking", func(c *fiber.Ctx) error {
		speaking, err := s.session.Speaking()
		if err != nil {
			return api.ErrorNotFoundResp(c, err.Error())
		}
		return api.SuccessResp(c, fiber.Map{
			"speaking": speaking,
		})
	})

	// GET /api/session/mix - WAV snapshot of the last second of mixed audio
	sessionAPI.Get("/mix", func(c *fiber.Ctx) error {
		mix := s.session.MixOutput()
		if mix == nil {
			return api.ErrorNotFoundResp(c, session.ErrNoSession.Error())
		}
		tracks := mix.AudioTracks()
		if len(tracks) == 0 {
			return api.ErrorNotFoundResp(c, "mix has no audio track")
		}
		blob, err := recorder.EncodeWAV(tracks[0].Recent(media.SampleRate), media.SampleRate)
		if err != nil {
			return api.ErrorInternalServerErrorResp(c, err.Error())
		}
		c.Set(fiber.HeaderContentType, "audio/wav")
		return c.Send(blob)
	})

	// GET /api/devices - Enumerate capture devices
	fiberApp.Get("/api/devices", func(c *fiber.Ctx) error {
		devs, err := s.backend.Enumerate()
		if err != nil {
			return api.ErrorInternalServerErrorResp(c, err.Error())
		}
		return api.SuccessResp(c, fiber.Map{
			"devices": devs,
		})
	})

	return nil
}
