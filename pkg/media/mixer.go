package media

import (
	"sync"
	"time"
)

// Mixer merges remote audio streams into one mixed output stream. Each added
// stream becomes a source feeding a shared destination track. Sources are
// only ever added for the life of the mixer; teardown is wholesale via Close.
// Local audio is never connected here, it travels through the recorder path.
type Mixer struct {
	mu       sync.Mutex
	inputs   map[string]*mixerInput
	cancels  []func()
	out      *Stream
	outTrack *Track
	added    int
	closed   bool
	done     chan struct{}
}

type mixerInput struct {
	mu      sync.Mutex
	pending []int16
}

func (in *mixerInput) push(frame []int16) {
	in.mu.Lock()
	defer in.mu.Unlock()
	// Bound the backlog so a bursty source cannot grow memory without limit.
	if len(in.pending) > SampleRate {
		in.pending = in.pending[len(in.pending)-SampleRate:]
	}
	in.pending = append(in.pending, frame...)
}

func (in *mixerInput) pull(n int) []int16 {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]int16, n)
	take := len(in.pending)
	if take > n {
		take = n
	}
	copy(out, in.pending[:take])
	in.pending = in.pending[take:]
	return out
}

// NewMixer creates a mixer with an empty output stream.
func NewMixer(id string) *Mixer {
	outTrack := NewAudioTrack(id + "-mixed")
	m := &Mixer{
		inputs:   make(map[string]*mixerInput),
		out:      NewStream(id, outTrack),
		outTrack: outTrack,
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mixer) run() {
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mixFrame()
		}
	}
}

func (m *Mixer) mixFrame() {
	m.mu.Lock()
	inputs := make([]*mixerInput, 0, len(m.inputs))
	for _, in := range m.inputs {
		inputs = append(inputs, in)
	}
	m.mu.Unlock()

	if len(inputs) == 0 {
		return
	}

	acc := make([]int32, FrameSamples)
	for _, in := range inputs {
		frame := in.pull(FrameSamples)
		for i, s := range frame {
			acc[i] += int32(s)
		}
	}

	mixed := make([]int16, FrameSamples)
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		mixed[i] = int16(v)
	}
	m.outTrack.WriteSamples(mixed)
}

// AddStream connects a remote stream's audio tracks into the mix. Adding the
// same id twice connects a second source; callers key streams by user id so
// this does not occur in practice.
func (m *Mixer) AddStream(id string, stream *Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	for _, track := range stream.AudioTracks() {
		in := &mixerInput{}
		m.inputs[id+"/"+track.ID()] = in
		cancel := track.Subscribe(in.push)
		m.cancels = append(m.cancels, cancel)
		m.added++
	}
}

// Output returns the mixed stream.
func (m *Mixer) Output() *Stream {
	return m.out
}

// SourceCount returns the number of sources ever connected. The count never
// decreases while the mixer is open.
func (m *Mixer) SourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.added
}

// Close tears the whole graph down: every source subscription is cancelled
// and the output track stopped. Safe to call more than once.
func (m *Mixer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancels := m.cancels
	m.cancels = nil
	close(m.done)
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.outTrack.Stop()
}
