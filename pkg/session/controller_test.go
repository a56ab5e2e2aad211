package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/confmesh/confmesh/pkg/devices"
	"github.com/confmesh/confmesh/pkg/logger"
	"github.com/confmesh/confmesh/pkg/meetings"
	"github.com/confmesh/confmesh/pkg/models"
	"github.com/confmesh/confmesh/pkg/recorder"
	"github.com/confmesh/confmesh/pkg/signaling"
)

type fakeRegistry struct {
	mu       sync.Mutex
	meetings map[string]*meetings.Meeting
	created  int
	started  int
	getErr   error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{meetings: make(map[string]*meetings.Meeting)}
}

func (r *fakeRegistry) GetMeeting(ctx context.Context, roomID string) (*meetings.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	if m, ok := r.meetings[roomID]; ok {
		return m, nil
	}
	return nil, meetings.ErrNotFound
}

func (r *fakeRegistry) CreateMeeting(ctx context.Context, roomID, title string) (*meetings.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
	m := &meetings.Meeting{RoomID: roomID, Title: title}
	r.meetings[roomID] = m
	return m, nil
}

func (r *fakeRegistry) StartMeeting(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return nil
}

type fakeChannel struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	joined     []string
	left       []string
	handler    signaling.Handler
}

func (f *fakeChannel) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeChannel) OnMessage(handler signaling.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeChannel) JoinRoom(roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return nil
}

func (f *fakeChannel) LeaveRoom(roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomID)
	return nil
}

func (f *fakeChannel) SendOffer(roomID, fromUser, toUser, sdp string) error  { return nil }
func (f *fakeChannel) SendAnswer(roomID, fromUser, toUser, sdp string) error { return nil }
func (f *fakeChannel) SendICECandidate(roomID, fromUser, toUser, cand string) error {
	return nil
}

type nullUploader struct {
	calls int
	err   error
}

func (u *nullUploader) UploadRecording(ctx context.Context, blob []byte, meta recorder.RecordingMeta) error {
	u.calls++
	return u.err
}

type memPrefs struct{}

func (memPrefs) Get() (*models.DevicePreference, error) {
	return &models.DevicePreference{}, nil
}

func (memPrefs) Save(pref *models.DevicePreference) error { return nil }

type fixture struct {
	controller *Controller
	registry   *fakeRegistry
	channels   []*fakeChannel
	uploader   *nullUploader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewDefault("TEST")
	backend := devices.NewSyntheticBackend()
	preview := devices.NewPreviewManager(backend, backend, memPrefs{}, log)
	uploader := &nullUploader{}

	f := &fixture{
		registry: newFakeRegistry(),
		uploader: uploader,
	}

	ctl, err := NewController(Config{
		SelfID:      "alice",
		DisplayName: "Alice",
		Channels: func() signaling.Channel {
			ch := &fakeChannel{}
			f.channels = append(f.channels, ch)
			return ch
		},
		Meetings: f.registry,
		Preview:  preview,
		Recorder: recorder.NewRecorder(uploader, log),
		Logger:   log,
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	f.controller = ctl
	return f
}

func TestJoinCreatesMissingMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.controller.Join(ctx, "room-1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer f.controller.Leave(ctx)

	if f.controller.State() != StateActive {
		t.Errorf("Expected active state, got %s", f.controller.State())
	}
	if f.controller.RoomID() != "room-1" {
		t.Errorf("Expected room-1, got %s", f.controller.RoomID())
	}
	if f.registry.created != 1 {
		t.Errorf("Expected the meeting to be created once, got %d", f.registry.created)
	}
	if f.registry.started != 1 {
		t.Errorf("Expected the meeting to be started once, got %d", f.registry.started)
	}
	if len(f.channels) != 1 || len(f.channels[0].joined) != 1 {
		t.Error("Expected one channel with one join")
	}
}

func TestJoinReusesExistingMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registry.meetings["room-1"] = &meetings.Meeting{RoomID: "room-1"}

	if err := f.controller.Join(ctx, "room-1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer f.controller.Leave(ctx)

	if f.registry.created != 0 {
		t.Errorf("Expected no meeting creation, got %d", f.registry.created)
	}
}

func TestJoinWhileActiveFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.controller.Join(ctx, "room-1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer f.controller.Leave(ctx)

	if err := f.controller.Join(ctx, "room-2"); !errors.Is(err, ErrAlreadyInSession) {
		t.Errorf("Expected ErrAlreadyInSession, got %v", err)
	}
}

func TestJoinAbortsOnRegistryFailure(t *testing.T) {
	f := newFixture(t)
	f.registry.getErr = fmt.Errorf("backend down")

	if err := f.controller.Join(context.Background(), "room-1"); err == nil {
		t.Fatal("Expected join to fail")
	}
	if f.controller.State() != StateLobby {
		t.Errorf("Expected lobby state after failed join, got %s", f.controller.State())
	}
}

func TestJoinAbortsOnSignalingFailure(t *testing.T) {
	log := logger.NewDefault("TEST")
	backend := devices.NewSyntheticBackend()
	preview := devices.NewPreviewManager(backend, backend, memPrefs{}, log)

	ctl, err := NewController(Config{
		SelfID: "alice",
		Channels: func() signaling.Channel {
			return &fakeChannel{connectErr: fmt.Errorf("refused")}
		},
		Meetings: newFakeRegistry(),
		Preview:  preview,
		Recorder: recorder.NewRecorder(&nullUploader{}, log),
		Logger:   log,
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	if err := ctl.Join(context.Background(), "room-1"); err == nil {
		t.Fatal("Expected join to fail on signaling connect")
	}
	if ctl.State() != StateLobby {
		t.Errorf("Expected lobby state, got %s", ctl.State())
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.controller.Leave(ctx); err != nil {
		t.Fatalf("Leave in lobby failed: %v", err)
	}

	if err := f.controller.Join(ctx, "room-1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := f.controller.Leave(ctx); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if f.controller.State() != StateLobby {
		t.Errorf("Expected lobby state, got %s", f.controller.State())
	}

	if err := f.controller.Leave(ctx); err != nil {
		t.Fatalf("Second leave failed: %v", err)
	}

	if len(f.channels[0].left) != 1 {
		t.Errorf("Expected exactly one leave message, got %d", len(f.channels[0].left))
	}
}

func TestLeaveThenRejoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.controller.Join(ctx, "room-1"); err != nil {
		t.Fatalf("First join failed: %v", err)
	}
	if err := f.controller.Leave(ctx); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}

	if err := f.controller.Join(ctx, "room-2"); err != nil {
		t.Fatalf("Rejoin failed: %v", err)
	}
	defer f.controller.Leave(ctx)

	if f.controller.RoomID() != "room-2" {
		t.Errorf("Expected room-2, got %s", f.controller.RoomID())
	}
	if len(f.channels) != 2 {
		t.Errorf("Expected a fresh channel per session, got %d", len(f.channels))
	}
}

func TestMixOutputFollowsSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.controller.MixOutput() != nil {
		t.Error("Expected no mix output in the lobby")
	}

	if err := f.controller.Join(ctx, "room-1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	mix := f.controller.MixOutput()
	if mix == nil {
		t.Fatal("Expected a mix output stream while active")
	}
	if len(mix.AudioTracks()) != 1 {
		t.Errorf("Expected one mixed audio track, got %d", len(mix.AudioTracks()))
	}

	if err := f.controller.Leave(ctx); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if f.controller.MixOutput() != nil {
		t.Error("Expected no mix output after leaving")
	}
}

func TestParticipantsIncludeSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.controller.Participants(); len(got) != 0 {
		t.Errorf("Expected empty roster in lobby, got %+v", got)
	}

	if err := f.controller.Join(ctx, "room-1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	participants := f.controller.Participants()
	if len(participants) != 1 || participants[0].UserID != "alice" {
		t.Errorf("Expected only the local participant, got %+v", participants)
	}

	if err := f.controller.Leave(ctx); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if got := f.controller.Participants(); len(got) != 0 {
		t.Errorf("Expected empty roster after leaving, got %+v", got)
	}
}
