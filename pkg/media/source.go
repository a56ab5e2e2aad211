package media

import (
	"math"
	"sync"
	"time"
)

// FrameInterval is the wall-clock cadence of capture sources.
const FrameInterval = 20 * time.Millisecond

// Source drives an audio track with generated frames on the capture cadence.
// Sources stand in for capture hardware on a headless client.
type Source interface {
	Start()
	Stop()
}

// ToneSource writes a fixed-frequency sine wave into a track. Amplitude is
// relative to full scale (0-1).
type ToneSource struct {
	track     *Track
	freq      float64
	amplitude float64

	mu     sync.Mutex
	done   chan struct{}
	phase  float64
	active bool
}

// NewToneSource creates a tone source for the given track.
func NewToneSource(track *Track, freq, amplitude float64) *ToneSource {
	return &ToneSource{track: track, freq: freq, amplitude: amplitude}
}

// Start begins frame generation. Calling Start on a running source is a no-op.
func (s *ToneSource) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(FrameInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if s.track.Stopped() {
					s.Stop()
					return
				}
				s.track.WriteSamples(s.nextFrame())
			}
		}
	}()
}

func (s *ToneSource) nextFrame() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := make([]int16, FrameSamples)
	step := 2 * math.Pi * s.freq / SampleRate
	for i := range frame {
		frame[i] = int16(s.amplitude * math.MaxInt16 * math.Sin(s.phase))
		s.phase += step
	}
	return frame
}

// Stop halts frame generation
func (s *ToneSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.done)
}

// SilenceSource keeps a track's cadence alive with zero frames.
type SilenceSource struct {
	tone *ToneSource
}

// NewSilenceSource creates a silence source for the given track.
func NewSilenceSource(track *Track) *SilenceSource {
	return &SilenceSource{tone: NewToneSource(track, 0, 0)}
}

// Start begins frame generation
func (s *SilenceSource) Start() {
	s.tone.Start()
}

// Stop halts frame generation
func (s *SilenceSource) Stop() {
	s.tone.Stop()
}
