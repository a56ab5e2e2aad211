package devices

import (
	"fmt"
	"sync"
	"time"

	"github.com/confmesh/confmesh/pkg/logger"
	"github.com/confmesh/confmesh/pkg/media"
	"github.com/confmesh/confmesh/pkg/models"
)

// MeterInterval is the level meter sampling cadence.
const MeterInterval = 50 * time.Millisecond

// PreferenceStore loads and persists the device preference across sessions.
type PreferenceStore interface {
	Get() (*models.DevicePreference, error)
	Save(pref *models.DevicePreference) error
}

// PreviewManager acquires the local capture stream while the user sits in the
// lobby, applies persisted preferences, and feeds a live input level meter.
// Acquisition suspends at several points; a released manager checks its
// cancelled flag after every resumption so a racing teardown never leaves
// live tracks behind.
type PreviewManager struct {
	enumerator Enumerator
	opener     Opener
	prefs      PreferenceStore
	logger     *logger.Logger

	mu            sync.Mutex
	stream        *media.Stream
	sessionStream *media.Stream
	pref          *models.DevicePreference
	cancelled     bool
	onLevel       func(level float64)
	meterDone     chan struct{}
}

// NewPreviewManager creates a preview manager over the given backend.
func NewPreviewManager(enumerator Enumerator, opener Opener, prefs PreferenceStore, log *logger.Logger) *PreviewManager {
	return &PreviewManager{
		enumerator: enumerator,
		opener:     opener,
		prefs:      prefs,
		logger:     log.Named("Preview"),
	}
}

// OnLevel registers the level meter callback, invoked every MeterInterval
// with a 0-1 input level while a preview stream is live.
func (m *PreviewManager) OnLevel(fn func(level float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLevel = fn
}

// Preference returns the preference loaded by the last Acquire.
func (m *PreviewManager) Preference() *models.DevicePreference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pref
}

// Stream returns the current preview stream, nil when none is live.
func (m *PreviewManager) Stream() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Acquire obtains the preview stream: persisted device ids are validated
// against a fresh enumeration (falling back to the first device of the same
// kind), audio+video is attempted first with one audio-only retry, and the
// persisted mute flags are applied to the track enabled state so a user who
// joins muted never transmits before unmuting.
func (m *PreviewManager) Acquire() (*media.Stream, error) {
	pref, err := m.prefs.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to load device preference: %w", err)
	}

	if m.isCancelled() {
		return nil, fmt.Errorf("preview manager released")
	}

	devs, err := m.enumerator.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	audioID := ResolveDeviceID(devs, media.KindAudio, pref.AudioDeviceID)
	videoID := ResolveDeviceID(devs, media.KindVideo, pref.VideoDeviceID)

	if m.isCancelled() {
		return nil, fmt.Errorf("preview manager released")
	}

	stream, err := m.opener.Open(audioID, videoID)
	if err != nil {
		m.logger.Warn("Audio+video acquisition failed, retrying audio-only: %v", err)
		stream, err = m.opener.Open(audioID, "")
		if err != nil {
			return nil, fmt.Errorf("failed to acquire capture stream: %w", err)
		}
	}

	if m.isCancelled() {
		// Teardown raced the acquisition: stop whatever we obtained.
		stream.StopTracks()
		return nil, fmt.Errorf("preview manager released")
	}

	if len(stream.AudioTracks()) == 0 {
		stream.StopTracks()
		return nil, fmt.Errorf("no audio track acquired, cannot join a call")
	}

	for _, t := range stream.AudioTracks() {
		t.SetEnabled(!pref.IsMuted)
	}
	for _, t := range stream.VideoTracks() {
		t.SetEnabled(!pref.IsVideoOff)
	}

	m.mu.Lock()
	m.stream = stream
	m.pref = pref
	m.meterDone = make(chan struct{})
	done := m.meterDone
	m.mu.Unlock()

	go m.runMeter(stream.AudioTracks()[0], done)

	m.logger.Info("Acquired stream (audio=%s video=%s)", audioID, videoID)
	return stream, nil
}

// runMeter computes the live input level: RMS of the time-domain window
// weighted x3, against the frequency-bin average, whichever is larger.
func (m *PreviewManager) runMeter(track *media.Track, done chan struct{}) {
	analyser := media.NewAnalyser(track)
	ticker := time.NewTicker(MeterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			level := analyser.TimeDomainRMS() * 3
			if freq := analyser.FrequencyAverage() / 255; freq > level {
				level = freq
			}
			if level > 1 {
				level = 1
			}

			m.mu.Lock()
			onLevel := m.onLevel
			m.mu.Unlock()
			if onLevel != nil {
				onLevel(level)
			}
		}
	}
}

// HandOff marks the preview stream as owned by the active session, so
// Release does not stop it mid-handoff.
func (m *PreviewManager) HandOff(stream *media.Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionStream = stream
}

// Release stops the level meter and the preview stream's tracks, unless the
// stream is the one handed to the session. Cancels any in-flight Acquire.
func (m *PreviewManager) Release() {
	m.mu.Lock()
	m.cancelled = true
	if m.meterDone != nil {
		close(m.meterDone)
		m.meterDone = nil
	}
	stream := m.stream
	session := m.sessionStream
	m.stream = nil
	m.mu.Unlock()

	if stream != nil && stream != session {
		stream.StopTracks()
		m.logger.Info("Stopped preview stream")
	}
}

// Reset re-arms a released manager for another lobby entry.
func (m *PreviewManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = false
	m.sessionStream = nil
}

func (m *PreviewManager) isCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}
