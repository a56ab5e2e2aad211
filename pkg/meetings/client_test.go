package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/confmesh/confmesh/pkg/recorder"
)

func TestGetMeeting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/meetings/room-1" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Meeting{RoomID: "room-1", Title: "Standup"})
	}))
	defer srv.Close()

	meeting, err := NewClient(srv.URL).GetMeeting(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if meeting.RoomID != "room-1" || meeting.Title != "Standup" {
		t.Errorf("Unexpected meeting: %+v", meeting)
	}
}

func TestGetMeetingNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetMeeting(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreateMeeting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/meetings" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["room_id"] != "room-1" || body["title"] != "Standup" {
			t.Errorf("Unexpected body: %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Meeting{RoomID: "room-1", Title: "Standup"})
	}))
	defer srv.Close()

	meeting, err := NewClient(srv.URL).CreateMeeting(context.Background(), "room-1", "Standup")
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	if meeting.RoomID != "room-1" {
		t.Errorf("Unexpected meeting: %+v", meeting)
	}
}

func TestStartMeetingPropagatesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).StartMeeting(context.Background(), "room-1"); err == nil {
		t.Error("Expected error on 500 response")
	}
}

func TestUploadRecording(t *testing.T) {
	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/recordings" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("room_id"); got != "room-1" {
			t.Errorf("Expected room_id room-1, got %q", got)
		}
		if got := r.FormValue("speaker_name"); got != "alice" {
			t.Errorf("Expected speaker_name alice, got %q", got)
		}
		if got := r.FormValue("start_time"); got != "2026-03-14T10:00:00Z" {
			t.Errorf("Unexpected start_time %q", got)
		}
		if got := r.FormValue("format"); got != "wav" {
			t.Errorf("Expected format wav, got %q", got)
		}

		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("Missing audio file: %v", err)
		}
		defer file.Close()
		if header.Filename != "recording.wav" {
			t.Errorf("Unexpected filename %q", header.Filename)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).UploadRecording(context.Background(), []byte("RIFFdata"), recorder.RecordingMeta{
		RoomID:      "room-1",
		SpeakerName: "alice",
		StartTime:   started,
		Format:      "wav",
	})
	if err != nil {
		t.Fatalf("UploadRecording failed: %v", err)
	}
}
