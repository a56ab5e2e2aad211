// Package meetings is the REST client for the meeting registry and the
// recording upload endpoint, both external collaborators.
package meetings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/confmesh/confmesh/pkg/recorder"
)

// ErrNotFound indicates the requested meeting does not exist.
var ErrNotFound = errors.New("meeting not found")

const defaultTimeout = 30 * time.Second

// Meeting is the registry's record of a room.
type Meeting struct {
	RoomID    string     `json:"room_id"`
	Title     string     `json:"title"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Client talks to the meeting backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ recorder.Uploader = (*Client)(nil)

// NewClient creates a meeting API client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// GetMeeting fetches a meeting by room id. Returns ErrNotFound on 404.
func (c *Client) GetMeeting(ctx context.Context, roomID string) (*Meeting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/meetings/"+roomID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch meeting %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meeting API returned status %d", resp.StatusCode)
	}

	var meeting Meeting
	if err := json.NewDecoder(resp.Body).Decode(&meeting); err != nil {
		return nil, fmt.Errorf("failed to decode meeting: %w", err)
	}
	return &meeting, nil
}

// CreateMeeting registers a new meeting for the room.
func (c *Client) CreateMeeting(ctx context.Context, roomID, title string) (*Meeting, error) {
	payload, err := json.Marshal(map[string]string{
		"room_id": roomID,
		"title":   title,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/meetings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("meeting API returned status %d", resp.StatusCode)
	}

	var meeting Meeting
	if err := json.NewDecoder(resp.Body).Decode(&meeting); err != nil {
		return nil, fmt.Errorf("failed to decode meeting: %w", err)
	}
	return &meeting, nil
}

// StartMeeting marks the meeting as started.
func (c *Client) StartMeeting(ctx context.Context, roomID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/meetings/"+roomID+"/start", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to start meeting %s: %w", roomID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("meeting API returned status %d", resp.StatusCode)
	}
	return nil
}

// UploadRecording posts a recording blob with its metadata as a multipart
// form. Any non-success response is an error.
func (c *Client) UploadRecording(ctx context.Context, blob []byte, meta recorder.RecordingMeta) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := map[string]string{
		"room_id":      meta.RoomID,
		"speaker_name": meta.SpeakerName,
		"start_time":   meta.StartTime.UTC().Format(time.RFC3339),
		"format":       meta.Format,
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}

	part, err := writer.CreateFormFile("audio", "recording."+meta.Format)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(blob); err != nil {
		return fmt.Errorf("failed to write audio payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/recordings", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload recording: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("recording upload returned status %d", resp.StatusCode)
	}
	return nil
}
