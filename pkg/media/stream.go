package media

import (
	"sync"
	"sync/atomic"
)

// Audio constants shared by every component that touches PCM data. All audio
// in the system is 16 kHz mono PCM16, carried in 20 ms frames.
const (
	SampleRate    = 16000
	FrameSamples  = 320        // 20 ms at 16 kHz
	recentSamples = SampleRate // one second retained for analysers
)

// Kind identifies the payload a track carries
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is a single media track. Audio tracks carry PCM16 mono frames:
// producers push frames with WriteSamples, consumers either subscribe for
// every frame (mixer, recorder) or poll the retained recent-sample window
// (analysers). A disabled audio track keeps its cadence but substitutes
// silence, so a muted participant never transmits captured audio.
type Track struct {
	id      string
	kind    Kind
	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	ring    []int16
	ringPos int
	ringLen int
	subs    map[int]func([]int16)
	nextSub int
}

func newTrack(id string, kind Kind) *Track {
	t := &Track{
		id:   id,
		kind: kind,
		ring: make([]int16, recentSamples),
		subs: make(map[int]func([]int16)),
	}
	t.enabled.Store(true)
	return t
}

// NewAudioTrack creates an enabled audio track.
func NewAudioTrack(id string) *Track {
	return newTrack(id, KindAudio)
}

// NewVideoTrack creates an enabled video track. Video payloads are opaque to
// this process; the track exists for enable/disable state and sink routing.
func NewVideoTrack(id string) *Track {
	return newTrack(id, KindVideo)
}

// ID returns the track identifier
func (t *Track) ID() string {
	return t.id
}

// Kind returns the track kind
func (t *Track) Kind() Kind {
	return t.kind
}

// Enabled reports whether the track is live (unmuted)
func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled mutes or unmutes the track
func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// Stopped reports whether the track has been stopped
func (t *Track) Stopped() bool {
	return t.stopped.Load()
}

// Stop permanently stops the track. Further writes are dropped and all
// subscribers are detached.
func (t *Track) Stop() {
	t.stopped.Store(true)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = make(map[int]func([]int16))
}

// WriteSamples pushes one PCM frame into the track. Writes on a stopped track
// are dropped; writes on a disabled track are replaced with silence of the
// same length.
func (t *Track) WriteSamples(samples []int16) {
	if t.stopped.Load() || t.kind != KindAudio {
		return
	}

	frame := samples
	if !t.enabled.Load() {
		frame = make([]int16, len(samples))
	}

	t.mu.Lock()
	for _, s := range frame {
		t.ring[t.ringPos] = s
		t.ringPos = (t.ringPos + 1) % len(t.ring)
	}
	if t.ringLen < len(t.ring) {
		t.ringLen += len(frame)
		if t.ringLen > len(t.ring) {
			t.ringLen = len(t.ring)
		}
	}
	subs := make([]func([]int16), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(frame)
	}
}

// Subscribe registers a per-frame consumer and returns a cancel function.
func (t *Track) Subscribe(fn func([]int16)) (cancel func()) {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Recent copies the most recent n samples written to the track, oldest first.
// When fewer than n samples have been written the result is zero-padded at
// the front.
func (t *Track) Recent(n int) []int16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]int16, n)
	avail := t.ringLen
	if avail > n {
		avail = n
	}
	for i := 0; i < avail; i++ {
		idx := (t.ringPos - avail + i + len(t.ring)) % len(t.ring)
		out[n-avail+i] = t.ring[idx]
	}
	return out
}

// Stream is a set of tracks sharing one identity, the local analogue of a
// browser MediaStream.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []*Track
}

// NewStream creates a stream holding the given tracks.
func NewStream(id string, tracks ...*Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

// ID returns the stream identifier
func (s *Stream) ID() string {
	return s.id
}

// AddTrack appends a track to the stream
func (s *Stream) AddTrack(t *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// Tracks returns all tracks
func (s *Stream) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// AudioTracks returns the audio tracks
func (s *Stream) AudioTracks() []*Track {
	return s.tracksOfKind(KindAudio)
}

// VideoTracks returns the video tracks
func (s *Stream) VideoTracks() []*Track {
	return s.tracksOfKind(KindVideo)
}

func (s *Stream) tracksOfKind(kind Kind) []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// StopTracks stops every track in the stream
func (s *Stream) StopTracks() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
