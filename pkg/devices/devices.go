// Package devices covers capture device enumeration and the lobby preview:
// acquiring a local stream before joining a call, applying persisted device
// preferences, and computing a live input level meter.
package devices

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/confmesh/confmesh/pkg/media"
)

// Device describes one capture device.
type Device struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  media.Kind `json:"kind"`
}

// Enumerator lists the currently available capture devices.
type Enumerator interface {
	Enumerate() ([]Device, error)
}

// Opener acquires a capture stream for a device id pair. An empty
// videoDeviceID requests audio only.
type Opener interface {
	Open(audioDeviceID, videoDeviceID string) (*media.Stream, error)
}

// ResolveDeviceID validates a preferred device id against a fresh
// enumeration. When the preferred id no longer resolves, the first device of
// the same kind is selected; empty means no device of that kind exists.
func ResolveDeviceID(devs []Device, kind media.Kind, preferred string) string {
	first := ""
	for _, d := range devs {
		if d.Kind != kind {
			continue
		}
		if d.ID == preferred {
			return preferred
		}
		if first == "" {
			first = d.ID
		}
	}
	return first
}

// SyntheticBackend is the capture backend for a headless client: it exposes
// one synthetic microphone and one synthetic camera, and opened audio tracks
// are driven with silence frames on the capture cadence.
type SyntheticBackend struct {
	devices []Device
}

// NewSyntheticBackend creates the default synthetic backend.
func NewSyntheticBackend() *SyntheticBackend {
	return &SyntheticBackend{
		devices: []Device{
			{ID: "mic-default", Label: "Synthetic Microphone", Kind: media.KindAudio},
			{ID: "cam-default", Label: "Synthetic Camera", Kind: media.KindVideo},
		},
	}
}

// Enumerate lists the synthetic devices
func (b *SyntheticBackend) Enumerate() ([]Device, error) {
	out := make([]Device, len(b.devices))
	copy(out, b.devices)
	return out, nil
}

// Open acquires a stream for the given device ids.
func (b *SyntheticBackend) Open(audioDeviceID, videoDeviceID string) (*media.Stream, error) {
	if audioDeviceID == "" {
		return nil, fmt.Errorf("no audio device available")
	}
	if !b.has(audioDeviceID, media.KindAudio) {
		return nil, fmt.Errorf("unknown audio device: %s", audioDeviceID)
	}
	if videoDeviceID != "" && !b.has(videoDeviceID, media.KindVideo) {
		return nil, fmt.Errorf("unknown video device: %s", videoDeviceID)
	}

	// Each acquisition gets a fresh stream identity so a handed-off session
	// stream is never confused with a later preview.
	audio := media.NewAudioTrack(audioDeviceID + "-" + uuid.NewString())
	media.NewSilenceSource(audio).Start()

	stream := media.NewStream(uuid.NewString(), audio)
	if videoDeviceID != "" {
		stream.AddTrack(media.NewVideoTrack(videoDeviceID + "-" + uuid.NewString()))
	}
	return stream, nil
}

func (b *SyntheticBackend) has(id string, kind media.Kind) bool {
	for _, d := range b.devices {
		if d.ID == id && d.Kind == kind {
			return true
		}
	}
	return false
}
