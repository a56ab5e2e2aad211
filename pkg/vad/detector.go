// Package vad implements amplitude-based voice activity detection over
// audio tracks. Each tracked stream gets an analyser polled on a fixed
// interval; the externally observable speaking set only changes when
// membership actually differs.
package vad

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/confmesh/confmesh/pkg/logger"
	"github.com/confmesh/confmesh/pkg/media"
)

const (
	// SpeakingThreshold is the mean frequency-bin amplitude, on the 0-255
	// scale, above which a stream counts as speaking.
	SpeakingThreshold = 15

	// SampleInterval is the fixed polling cadence.
	SampleInterval = 100 * time.Millisecond
)

// Detector polls registered audio tracks and maintains the speaking set.
type Detector struct {
	logger *logger.Logger

	mu        sync.Mutex
	analysers map[string]*media.Analyser
	speaking  []string
	onChange  func(speaking []string)

	done      chan struct{}
	closeOnce sync.Once
}

// NewDetector creates a detector and starts its sampling loop.
func NewDetector(log *logger.Logger) *Detector {
	d := &Detector{
		logger:    log.Named("VAD"),
		analysers: make(map[string]*media.Analyser),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Add registers a track under the given participant id. Re-adding an id
// replaces its analyser.
func (d *Detector) Add(id string, track *media.Track) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.analysers[id] = media.NewAnalyser(track)
}

// Remove stops detection for the participant immediately.
func (d *Detector) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.analysers, id)
}

// OnChange registers the callback invoked when speaking membership changes.
func (d *Detector) OnChange(fn func(speaking []string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// Speaking returns the current speaking set, sorted.
func (d *Detector) Speaking() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.speaking))
	copy(out, d.speaking)
	return out
}

// IsSpeaking reports whether the participant is in the speaking set.
func (d *Detector) IsSpeaking(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.speaking {
		if s == id {
			return true
		}
	}
	return false
}

func (d *Detector) run() {
	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.sample()
		}
	}
}

// sample recomputes the speaking set and publishes it only when membership
// differs from the previous tick.
func (d *Detector) sample() {
	d.mu.Lock()
	var speaking []string
	for id, analyser := range d.analysers {
		if analyser.FrequencyAverage() > SpeakingThreshold {
			speaking = append(speaking, id)
		}
	}
	sort.Strings(speaking)

	if strings.Join(speaking, ",") == strings.Join(d.speaking, ",") {
		d.mu.Unlock()
		return
	}

	d.speaking = speaking
	onChange := d.onChange
	d.mu.Unlock()

	d.logger.Debug("Speaking set now: %v", speaking)
	if onChange != nil {
		out := make([]string, len(speaking))
		copy(out, speaking)
		onChange(out)
	}
}

// Close stops the sampling loop. Safe to call more than once.
func (d *Detector) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
}
