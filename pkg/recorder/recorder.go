// Package recorder captures the local audio track into timed chunks,
// assembles one WAV blob on stop, and uploads it with meeting metadata.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/confmesh/confmesh/pkg/logger"
	"github.com/confmesh/confmesh/pkg/media"
)

const (
	// ChunkInterval is the fixed cadence on which captured audio is cut
	// into chunks while recording.
	ChunkInterval = time.Second

	// Format is the container format of assembled recordings.
	Format = "wav"
)

// RecordingMeta accompanies an uploaded recording blob.
type RecordingMeta struct {
	RoomID      string
	SpeakerName string
	StartTime   time.Time
	Format      string
}

// Uploader ships a finished recording to the meeting backend.
type Uploader interface {
	UploadRecording(ctx context.Context, blob []byte, meta RecordingMeta) error
}

// Recorder buffers local audio into chunks between Start and Stop. At most
// one recorded blob is retained per recorder.
type Recorder struct {
	uploader Uploader
	logger   *logger.Logger

	mu        sync.Mutex
	active    bool
	chunks    [][]int16
	current   []int16
	cancels   []func()
	startTime time.Time
	lastBlob  []byte
	done      chan struct{}
	stopped   sync.WaitGroup
}

// NewRecorder creates a recorder that uploads through the given uploader.
func NewRecorder(uploader Uploader, log *logger.Logger) *Recorder {
	return &Recorder{
		uploader: uploader,
		logger:   log.Named("Recorder"),
	}
}

// Start begins chunked capture of the stream's audio tracks. A stream with
// no audio tracks is a no-op. Starting while already recording is also a
// no-op; the first recording continues.
func (r *Recorder) Start(stream *media.Stream) {
	audioTracks := stream.AudioTracks()
	if len(audioTracks) == 0 {
		r.logger.Warn("Stream has no audio tracks, not recording")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return
	}

	r.active = true
	r.chunks = nil
	r.current = nil
	r.startTime = time.Now()
	r.done = make(chan struct{})

	for _, track := range audioTracks {
		cancel := track.Subscribe(r.appendFrame)
		r.cancels = append(r.cancels, cancel)
	}

	r.stopped.Add(1)
	go r.rotateChunks(r.done)

	r.logger.Info("Recording started (%d audio tracks)", len(audioTracks))
}

func (r *Recorder) appendFrame(frame []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.current = append(r.current, frame...)
}

// rotateChunks cuts the in-progress buffer into a finished chunk once per
// ChunkInterval.
func (r *Recorder) rotateChunks(done chan struct{}) {
	defer r.stopped.Done()

	ticker := time.NewTicker(ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if len(r.current) > 0 {
				r.chunks = append(r.chunks, r.current)
				r.current = nil
			}
			r.mu.Unlock()
		}
	}
}

// Stop finalizes the chunk sequence into one WAV blob. It returns only after
// capture has fully stopped. Returns nil when no recording was active.
func (r *Recorder) Stop() ([]byte, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil, nil
	}

	r.active = false
	cancels := r.cancels
	r.cancels = nil
	done := r.done
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	close(done)
	r.stopped.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.current) > 0 {
		r.chunks = append(r.chunks, r.current)
		r.current = nil
	}

	var samples []int16
	for _, chunk := range r.chunks {
		samples = append(samples, chunk...)
	}
	r.chunks = nil

	if len(samples) == 0 {
		r.lastBlob = nil
		r.logger.Info("Recording stopped, no audio captured")
		return nil, nil
	}

	blob, err := EncodeWAV(samples, media.SampleRate)
	if err != nil {
		return nil, err
	}

	r.lastBlob = blob
	r.logger.Info("Recording stopped, %d bytes", len(blob))
	return blob, nil
}

// LastBlob returns the most recently assembled recording, nil when none.
func (r *Recorder) LastBlob() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBlob
}

// Upload sends the last recorded blob with its metadata. An empty or absent
// recording is a successful no-op without a network call; transport failures
// are propagated.
func (r *Recorder) Upload(ctx context.Context, roomID, speakerName string) error {
	r.mu.Lock()
	blob := r.lastBlob
	startTime := r.startTime
	r.mu.Unlock()

	if len(blob) == 0 {
		r.logger.Info("Nothing to upload")
		return nil
	}

	return r.uploader.UploadRecording(ctx, blob, RecordingMeta{
		RoomID:      roomID,
		SpeakerName: speakerName,
		StartTime:   startTime,
		Format:      Format,
	})
}
