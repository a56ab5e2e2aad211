// Package session drives the meeting lifecycle: lobby, joining, active call,
// and teardown. Everything that exists only for the duration of a call (the
// peer mesh, voice detection, the mix bus) is built at join and discarded at
// leave.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confmesh/confmesh/pkg/devices"
	"github.com/confmesh/confmesh/pkg/logger"
	"github.com/confmesh/confmesh/pkg/media"
	"github.com/confmesh/confmesh/pkg/meetings"
	"github.com/confmesh/confmesh/pkg/mesh"
	"github.com/confmesh/confmesh/pkg/recorder"
	"github.com/confmesh/confmesh/pkg/signaling"
	"github.com/confmesh/confmesh/pkg/vad"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateLobby   State = "lobby"
	StateJoining State = "joining"
	StateActive  State = "active"
	StateLeaving State = "leaving"
)

var (
	// ErrAlreadyInSession is returned by Join while a session is live.
	ErrAlreadyInSession = errors.New("already in a session")
	// ErrNoSession is returned by queries that need an active session.
	ErrNoSession = errors.New("no active session")
)

// MeetingRegistry is the slice of the meetings API the controller needs.
type MeetingRegistry interface {
	GetMeeting(ctx context.Context, roomID string) (*meetings.Meeting, error)
	CreateMeeting(ctx context.Context, roomID, title string) (*meetings.Meeting, error)
	StartMeeting(ctx context.Context, roomID string) error
}

// Config carries the controller's long-lived collaborators. The signaling
// channel is created per session via Channels because a disconnected channel
// is not reusable.
type Config struct {
	SelfID      string
	DisplayName string
	Channels    func() signaling.Channel
	Meetings    MeetingRegistry
	Preview     *devices.PreviewManager
	Recorder    *recorder.Recorder
	Sinks       mesh.SinkFactory
	STUNServers []string
	Logger      *logger.Logger
}

// Controller is the meeting session state machine. One instance lives for
// the process; per-call state hangs off it between Join and Leave.
type Controller struct {
	selfID      string
	displayName string
	channels    func() signaling.Channel
	meetings    MeetingRegistry
	preview     *devices.PreviewManager
	recorder    *recorder.Recorder
	sinks       mesh.SinkFactory
	stunServers []string
	baseLogger  *logger.Logger
	logger      *logger.Logger

	mu         sync.Mutex
	state      State
	roomID     string
	startedAt  time.Time
	channel    signaling.Channel
	detector   *vad.Detector
	mixer      *media.Mixer
	mesh       *mesh.Controller
	stream     *media.Stream
	onSpeaking func(speaking []string)
	onSigError func(message string)
}

// NewController builds a controller in the lobby state.
func NewController(cfg Config) (*Controller, error) {
	if cfg.SelfID == "" {
		return nil, fmt.Errorf("self id is required")
	}
	if cfg.Channels == nil {
		return nil, fmt.Errorf("signaling channel factory is required")
	}
	if cfg.Meetings == nil || cfg.Preview == nil || cfg.Recorder == nil {
		return nil, fmt.Errorf("meetings client, preview manager and recorder are required")
	}

	return &Controller{
		selfID:      cfg.SelfID,
		displayName: cfg.DisplayName,
		channels:    cfg.Channels,
		meetings:    cfg.Meetings,
		preview:     cfg.Preview,
		recorder:    cfg.Recorder,
		sinks:       cfg.Sinks,
		stunServers: cfg.STUNServers,
		baseLogger:  cfg.Logger,
		logger:      cfg.Logger.Named("Session"),
		state:       StateLobby,
	}, nil
}

// OnSpeakingChange registers a callback fired whenever the set of speaking
// participants changes. Must be set before Join to take effect.
func (c *Controller) OnSpeakingChange(fn func(speaking []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSpeaking = fn
}

// OnSignalingError registers a callback for server-reported signaling
// errors, which are non-fatal to the session.
func (c *Controller) OnSignalingError(fn func(message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSigError = fn
}

// Join takes the controller from lobby to an active call. On any failure the
// partially built session is torn down and the controller returns to the
// lobby.
func (c *Controller) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	c.mu.Lock()
	if c.state != StateLobby {
		c.mu.Unlock()
		return ErrAlreadyInSession
	}
	c.state = StateJoining
	onSpeaking := c.onSpeaking
	onSigError := c.onSigError
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.state = StateLobby
		c.mu.Unlock()
		return err
	}

	if err := c.ensureMeeting(ctx, roomID); err != nil {
		return fail(err)
	}

	stream := c.preview.Stream()
	if stream == nil {
		var err error
		stream, err = c.preview.Acquire()
		if err != nil {
			return fail(fmt.Errorf("failed to acquire devices: %w", err))
		}
	}

	channel := c.channels()
	if err := channel.Connect(); err != nil {
		return fail(fmt.Errorf("failed to connect signaling: %w", err))
	}

	detector := vad.NewDetector(c.baseLogger)
	if onSpeaking != nil {
		detector.OnChange(onSpeaking)
	}
	mixer := media.NewMixer("mix-" + roomID)

	meshCtl, err := mesh.NewController(mesh.Config{
		RoomID:      roomID,
		SelfID:      c.selfID,
		Channel:     channel,
		LocalStream: stream,
		Detector:    detector,
		Mixer:       mixer,
		Sinks:       c.sinks,
		ICEServers:  c.stunServers,
		Logger:      c.baseLogger,
		OnError: func(message string) {
			c.logger.Warn("Signaling error: %s", message)
			if onSigError != nil {
				onSigError(message)
			}
		},
	})
	if err != nil {
		mixer.Close()
		detector.Close()
		channel.Disconnect()
		return fail(fmt.Errorf("failed to create peer mesh: %w", err))
	}

	if err := channel.JoinRoom(roomID, c.selfID); err != nil {
		meshCtl.Close()
		mixer.Close()
		detector.Close()
		channel.Disconnect()
		return fail(fmt.Errorf("failed to join room: %w", err))
	}

	if err := c.meetings.StartMeeting(ctx, roomID); err != nil {
		c.logger.Warn("Failed to mark meeting started: %v", err)
	}

	c.preview.HandOff(stream)
	c.recorder.Start(stream)

	c.mu.Lock()
	c.state = StateActive
	c.roomID = roomID
	c.startedAt = time.Now()
	c.channel = channel
	c.detector = detector
	c.mixer = mixer
	c.mesh = meshCtl
	c.stream = stream
	c.mu.Unlock()

	c.logger.Info("Joined room %s as %s", roomID, c.selfID)
	return nil
}

// ensureMeeting looks the meeting up, creating it when absent.
func (c *Controller) ensureMeeting(ctx context.Context, roomID string) error {
	_, err := c.meetings.GetMeeting(ctx, roomID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, meetings.ErrNotFound) {
		return fmt.Errorf("failed to look up meeting: %w", err)
	}

	title := c.displayName + "'s meeting"
	if c.displayName == "" {
		title = roomID
	}
	if _, err := c.meetings.CreateMeeting(ctx, roomID, title); err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}
	return nil
}

// Leave tears the session down in reverse dependency order and returns the
// controller to the lobby. Calling it without an active session is a no-op.
// A recording upload failure is returned but never blocks teardown.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return nil
	}
	c.state = StateLeaving
	roomID := c.roomID
	channel := c.channel
	detector := c.detector
	mixer := c.mixer
	meshCtl := c.mesh
	stream := c.stream
	c.roomID = ""
	c.channel = nil
	c.detector = nil
	c.mixer = nil
	c.mesh = nil
	c.stream = nil
	c.mu.Unlock()

	if err := channel.LeaveRoom(roomID, c.selfID); err != nil {
		c.logger.Warn("Failed to send leave: %v", err)
	}
	channel.Disconnect()

	meshCtl.Close()
	detector.Close()
	mixer.Close()

	var uploadErr error
	if blob, err := c.recorder.Stop(); err != nil {
		c.logger.Warn("Failed to finalize recording: %v", err)
		uploadErr = err
	} else if len(blob) > 0 {
		if err := c.recorder.Upload(ctx, roomID, c.displayName); err != nil {
			c.logger.Warn("Failed to upload recording: %v", err)
			uploadErr = err
		}
	}

	stream.StopTracks()
	c.preview.Release()
	c.preview.Reset()

	c.mu.Lock()
	c.state = StateLobby
	c.mu.Unlock()

	c.logger.Info("Left room %s", roomID)
	return uploadErr
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomID returns the active room id, empty outside a session.
func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// StartedAt returns when the active session began.
func (c *Controller) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// Participants returns the active session's roster. Outside a session the
// roster is simply empty.
func (c *Controller) Participants() []mesh.Participant {
	c.mu.Lock()
	meshCtl := c.mesh
	c.mu.Unlock()
	if meshCtl == nil {
		return []mesh.Participant{}
	}
	return meshCtl.Participants()
}

// Speaking returns the ids of currently speaking participants.
func (c *Controller) Speaking() ([]string, error) {
	c.mu.Lock()
	detector := c.detector
	c.mu.Unlock()
	if detector == nil {
		return nil, ErrNoSession
	}
	return detector.Speaking(), nil
}

// MixOutput returns the mixed remote-audio stream, nil outside a session.
func (c *Controller) MixOutput() *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mixer == nil {
		return nil
	}
	return c.mixer.Output()
}
