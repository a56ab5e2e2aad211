package devices

import (
	"testing"

	"github.com/confmesh/confmesh/pkg/media"
)

func TestResolveDeviceID(t *testing.T) {
	devs := []Device{
		{ID: "mic-a", Kind: media.KindAudio},
		{ID: "mic-b", Kind: media.KindAudio},
		{ID: "cam-a", Kind: media.KindVideo},
	}

	if got := ResolveDeviceID(devs, media.KindAudio, "mic-b"); got != "mic-b" {
		t.Errorf("Expected preferred id kept, got %q", got)
	}
	if got := ResolveDeviceID(devs, media.KindAudio, "mic-gone"); got != "mic-a" {
		t.Errorf("Expected fallback to first audio device, got %q", got)
	}
	if got := ResolveDeviceID(devs, media.KindVideo, ""); got != "cam-a" {
		t.Errorf("Expected first video device, got %q", got)
	}
	if got := ResolveDeviceID(nil, media.KindAudio, "mic-a"); got != "" {
		t.Errorf("Expected empty id with no devices, got %q", got)
	}
}

func TestSyntheticBackendOpen(t *testing.T) {
	b := NewSyntheticBackend()

	stream, err := b.Open("mic-default", "cam-default")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer stream.StopTracks()

	if len(stream.AudioTracks()) != 1 {
		t.Errorf("Expected 1 audio track, got %d", len(stream.AudioTracks()))
	}
	if len(stream.VideoTracks()) != 1 {
		t.Errorf("Expected 1 video track, got %d", len(stream.VideoTracks()))
	}

	other, err := b.Open("mic-default", "")
	if err != nil {
		t.Fatalf("Audio-only open failed: %v", err)
	}
	defer other.StopTracks()

	if other.ID() == stream.ID() {
		t.Error("Expected each acquisition to get a distinct stream id")
	}
	if len(other.VideoTracks()) != 0 {
		t.Errorf("Expected no video track, got %d", len(other.VideoTracks()))
	}
}

func TestSyntheticBackendOpenErrors(t *testing.T) {
	b := NewSyntheticBackend()

	if _, err := b.Open("", ""); err == nil {
		t.Error("Expected error with no audio device")
	}
	if _, err := b.Open("mic-unknown", ""); err == nil {
		t.Error("Expected error for unknown audio device")
	}
	if _, err := b.Open("mic-default", "cam-unknown"); err == nil {
		t.Error("Expected error for unknown video device")
	}
}
