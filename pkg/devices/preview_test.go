package devices

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/confmesh/confmesh/pkg/logger"
	"github.com/confmesh/confmesh/pkg/media"
	"github.com/confmesh/confmesh/pkg/models"
)

type memPrefs struct {
	mu   sync.Mutex
	pref models.DevicePreference
}

func (p *memPrefs) Get() (*models.DevicePreference, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pref := p.pref
	return &pref, nil
}

func (p *memPrefs) Save(pref *models.DevicePreference) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pref = *pref
	return nil
}

// failingVideoOpener rejects audio+video requests so the audio-only retry
// path is taken.
type failingVideoOpener struct {
	backend *SyntheticBackend
	calls   int
}

func (o *failingVideoOpener) Open(audioDeviceID, videoDeviceID string) (*media.Stream, error) {
	o.calls++
	if videoDeviceID != "" {
		return nil, fmt.Errorf("video device busy")
	}
	return o.backend.Open(audioDeviceID, "")
}

func newTestPreview(prefs *memPrefs) *PreviewManager {
	b := NewSyntheticBackend()
	return NewPreviewManager(b, b, prefs, logger.NewDefault("TEST"))
}

func TestAcquireAppliesPersistedMute(t *testing.T) {
	prefs := &memPrefs{pref: models.DevicePreference{IsMuted: true}}
	m := newTestPreview(prefs)
	defer m.Release()

	stream, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if stream.AudioTracks()[0].Enabled() {
		t.Error("Expected audio track disabled for a muted preference")
	}
	if !stream.VideoTracks()[0].Enabled() {
		t.Error("Expected video track enabled")
	}
}

func TestAcquireRetriesAudioOnly(t *testing.T) {
	b := NewSyntheticBackend()
	opener := &failingVideoOpener{backend: b}
	m := NewPreviewManager(b, opener, &memPrefs{}, logger.NewDefault("TEST"))
	defer m.Release()

	stream, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if opener.calls != 2 {
		t.Errorf("Expected audio+video then audio-only, got %d open calls", opener.calls)
	}
	if len(stream.VideoTracks()) != 0 {
		t.Error("Expected audio-only stream after retry")
	}
	if len(stream.AudioTracks()) != 1 {
		t.Error("Expected an audio track")
	}
}

func TestAcquireAfterReleaseFails(t *testing.T) {
	m := newTestPreview(&memPrefs{})
	m.Release()

	if _, err := m.Acquire(); err == nil {
		t.Error("Expected Acquire on a released manager to fail")
	}

	m.Reset()
	stream, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire after Reset failed: %v", err)
	}
	stream.StopTracks()
	m.Release()
}

func TestReleaseStopsPreviewStream(t *testing.T) {
	m := newTestPreview(&memPrefs{})

	stream, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	m.Release()

	for _, track := range stream.Tracks() {
		if !track.Stopped() {
			t.Errorf("Expected track %s stopped after release", track.ID())
		}
	}
	if m.Stream() != nil {
		t.Error("Expected no current stream after release")
	}
}

func TestReleaseSparesHandedOffStream(t *testing.T) {
	m := newTestPreview(&memPrefs{})

	stream, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	m.HandOff(stream)
	m.Release()

	for _, track := range stream.Tracks() {
		if track.Stopped() {
			t.Errorf("Expected handed-off track %s to stay live", track.ID())
		}
	}
	stream.StopTracks()
}

func TestLevelMeterFires(t *testing.T) {
	m := newTestPreview(&memPrefs{})
	defer m.Release()

	levels := make(chan float64, 16)
	m.OnLevel(func(level float64) {
		select {
		case levels <- level:
		default:
		}
	})

	if _, err := m.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	select {
	case level := <-levels:
		if level < 0 || level > 1 {
			t.Errorf("Expected level in [0,1], got %f", level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a level sample")
	}
}
