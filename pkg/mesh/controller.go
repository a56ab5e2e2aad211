// Package mesh maintains the room roster and one peer connection per remote
// participant, driving SDP/ICE negotiation off the signaling channel.
package mesh

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/confmesh/confmesh/pkg/logger"
	"github.com/confmesh/confmesh/pkg/media"
	"github.com/confmesh/confmesh/pkg/signaling"
	"github.com/confmesh/confmesh/pkg/vad"
)

// Participant is one roster entry. The local user is a participant without a
// peer link.
type Participant struct {
	UserID          string `json:"user_id"`
	ConnectionState string `json:"connection_state"`
	HasVideo        bool   `json:"has_video"`
	IsSpeaking      bool   `json:"is_speaking"`
}

// Config carries the collaborators a controller needs for one session.
type Config struct {
	RoomID      string
	SelfID      string
	Channel     signaling.Channel
	LocalStream *media.Stream
	Detector    *vad.Detector
	Mixer       *media.Mixer
	Sinks       SinkFactory // optional; NullSink when nil
	ICEServers  []string    // optional; DefaultSTUNServers when empty
	Logger      *logger.Logger
	OnError     func(message string) // signaling error messages, non-fatal
}

// Controller owns the per-session link registry. It is constructed at join
// and discarded at leave; nothing outside the session mutates it.
type Controller struct {
	roomID      string
	selfID      string
	channel     signaling.Channel
	localStream *media.Stream
	detector    *vad.Detector
	mixer       *media.Mixer
	sinks       SinkFactory
	iceServers  []string
	logger      *logger.Logger
	onError     func(string)

	mu     sync.Mutex
	links  map[string]*PeerLink
	sunk   map[string]VideoSink
	roster []string
	closed bool
}

// NewController creates the mesh controller and registers it as the
// signaling channel's message handler.
func NewController(cfg Config) (*Controller, error) {
	if cfg.RoomID == "" || cfg.SelfID == "" {
		return nil, fmt.Errorf("room id and self id are required")
	}
	if cfg.Channel == nil || cfg.LocalStream == nil {
		return nil, fmt.Errorf("signaling channel and local stream are required")
	}

	sinks := cfg.Sinks
	if sinks == nil {
		sinks = func(string) VideoSink { return NullSink{} }
	}
	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = DefaultSTUNServers
	}
	onError := cfg.OnError
	if onError == nil {
		onError = func(string) {}
	}

	c := &Controller{
		roomID:      cfg.RoomID,
		selfID:      cfg.SelfID,
		channel:     cfg.Channel,
		localStream: cfg.LocalStream,
		detector:    cfg.Detector,
		mixer:       cfg.Mixer,
		sinks:       sinks,
		iceServers:  iceServers,
		logger:      cfg.Logger.Named("Mesh"),
		onError:     onError,
		links:       make(map[string]*PeerLink),
		sunk:        make(map[string]VideoSink),
		roster:      []string{cfg.SelfID},
	}

	cfg.Channel.OnMessage(c.HandleMessage)
	return c, nil
}

// HandleMessage consumes one signaling message. The signaling channel's
// single-consumer dispatch guarantees these never run concurrently, which is
// what keeps the one-link-per-participant invariant safe without finer locks.
func (c *Controller) HandleMessage(msg *signaling.Message) {
	if !msg.AddressedTo(c.selfID) {
		return
	}

	switch msg.Type {
	case signaling.TypeRoomUsers:
		c.handleRoomUsers(msg.Users)
	case signaling.TypeUserJoined:
		c.addToRoster(msg.UserID)
	case signaling.TypeUserLeft:
		c.handleUserLeft(msg.UserID)
	case signaling.TypeOffer:
		c.handleOffer(msg.FromUser, msg.SDP)
	case signaling.TypeAnswer:
		c.handleAnswer(msg.FromUser, msg.SDP)
	case signaling.TypeICECandidate:
		c.handleCandidate(msg.FromUser, msg.Candidate)
	case signaling.TypeError:
		c.logger.Warn("Signaling error: %s", msg.Message)
		c.onError(msg.Message)
	default:
		c.logger.Debug("Ignoring message type %q", msg.Type)
	}
}

// handleRoomUsers offers to every listed user we have no link with yet.
// Self is never offered to.
func (c *Controller) handleRoomUsers(users []string) {
	for _, userID := range users {
		c.addToRoster(userID)
		if userID == c.selfID {
			continue
		}

		c.mu.Lock()
		_, exists := c.links[userID]
		closed := c.closed
		c.mu.Unlock()
		if exists || closed {
			continue
		}

		if err := c.offerTo(userID); err != nil {
			c.logger.Error("Failed to offer to %s: %v", userID, err)
		}
	}
}

// offerTo creates a link, generates the offer, sets it locally, and sends
// it. The local description is always set before the offer is transmitted.
func (c *Controller) offerTo(userID string) error {
	link, err := newPeerLink(c, userID, true)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		link.close()
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		link.close()
		return fmt.Errorf("failed to set local description: %w", err)
	}

	c.registerLink(userID, link)

	if err := c.channel.SendOffer(c.roomID, c.selfID, userID, offer.SDP); err != nil {
		return fmt.Errorf("failed to send offer: %w", err)
	}

	c.logger.Info("Sent offer to %s", userID)
	return nil
}

// handleOffer answers an inbound offer, reusing the link if one exists.
func (c *Controller) handleOffer(fromUser, sdp string) {
	if fromUser == "" || fromUser == c.selfID {
		return
	}
	c.addToRoster(fromUser)

	c.mu.Lock()
	link, exists := c.links[fromUser]
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if !exists {
		var err error
		link, err = newPeerLink(c, fromUser, false)
		if err != nil {
			c.logger.Error("Failed to create peer connection for %s: %v", fromUser, err)
			return
		}
		c.registerLink(fromUser, link)
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := link.pc.SetRemoteDescription(offer); err != nil {
		c.logger.Error("Failed to set remote description from %s: %v", fromUser, err)
		return
	}
	link.setNegotiated()

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		c.logger.Error("Failed to create answer for %s: %v", fromUser, err)
		return
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		c.logger.Error("Failed to set local description for %s: %v", fromUser, err)
		return
	}

	if err := c.channel.SendAnswer(c.roomID, c.selfID, fromUser, answer.SDP); err != nil {
		c.logger.Error("Failed to send answer to %s: %v", fromUser, err)
		return
	}

	c.logger.Info("Sent answer to %s", fromUser)
}

// handleAnswer applies an answer on the existing link. An answer with no
// matching link is dropped.
func (c *Controller) handleAnswer(fromUser, sdp string) {
	c.mu.Lock()
	link, exists := c.links[fromUser]
	c.mu.Unlock()
	if !exists {
		c.logger.Warn("Dropping answer from %s: no link", fromUser)
		return
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := link.pc.SetRemoteDescription(answer); err != nil {
		c.logger.Error("Failed to set remote description from %s: %v", fromUser, err)
		return
	}
	link.setNegotiated()
}

// handleCandidate applies an ICE candidate the moment it arrives. A
// candidate with no matching link yet is dropped, not queued.
func (c *Controller) handleCandidate(fromUser, candidate string) {
	c.mu.Lock()
	link, exists := c.links[fromUser]
	c.mu.Unlock()
	if !exists {
		c.logger.Warn("Dropping ICE candidate from %s: no link", fromUser)
		return
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		c.logger.Warn("Invalid ICE candidate from %s: %v", fromUser, err)
		return
	}

	if err := link.pc.AddICECandidate(init); err != nil {
		c.logger.Warn("Failed to add ICE candidate from %s: %v", fromUser, err)
	}
}

// handleUserLeft closes and removes the link and roster entry. A repeated
// user_left is a no-op.
func (c *Controller) handleUserLeft(userID string) {
	c.mu.Lock()
	link, exists := c.links[userID]
	sink := c.sunk[userID]
	delete(c.links, userID)
	delete(c.sunk, userID)
	c.removeFromRosterLocked(userID)
	c.mu.Unlock()

	if !exists {
		return
	}

	link.close()
	if sink != nil {
		sink.Detach()
	}
	if c.detector != nil {
		c.detector.Remove(userID)
	}
	c.logger.Info("Participant %s left, link closed", userID)
}

// registerLink records the link and routes its inbound media: the remote
// stream goes to the participant's video sink, its audio into the voice
// activity detector and the audio mixer.
func (c *Controller) registerLink(userID string, link *PeerLink) {
	sink := c.sinks(userID)

	c.mu.Lock()
	c.links[userID] = link
	c.sunk[userID] = sink
	c.mu.Unlock()

	sink.Attach(link.RemoteStream())
	if c.detector != nil {
		for _, track := range link.RemoteStream().AudioTracks() {
			c.detector.Add(userID, track)
		}
	}
	if c.mixer != nil {
		c.mixer.AddStream(userID, link.RemoteStream())
	}
}

func (c *Controller) sendCandidate(userID string, candidate *webrtc.ICECandidate) {
	payload, err := json.Marshal(candidate.ToJSON())
	if err != nil {
		c.logger.Error("Failed to marshal ICE candidate: %v", err)
		return
	}
	if err := c.channel.SendICECandidate(c.roomID, c.selfID, userID, string(payload)); err != nil {
		c.logger.Warn("Failed to send ICE candidate to %s: %v", userID, err)
	}
}

// addToRoster inserts a user id, replacing rather than duplicating.
func (c *Controller) addToRoster(userID string) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.roster {
		if id == userID {
			return
		}
	}
	c.roster = append(c.roster, userID)
}

func (c *Controller) removeFromRosterLocked(userID string) {
	for i, id := range c.roster {
		if id == userID {
			c.roster = append(c.roster[:i], c.roster[i+1:]...)
			return
		}
	}
}

// Participants returns the roster in join order, the local user included.
func (c *Controller) Participants() []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Participant, 0, len(c.roster))
	for _, id := range c.roster {
		p := Participant{UserID: id}
		if id == c.selfID {
			p.ConnectionState = "local"
			p.HasVideo = len(c.localStream.VideoTracks()) > 0
		} else if link, ok := c.links[id]; ok {
			p.ConnectionState = string(link.State())
			p.HasVideo = link.HasVideo()
		}
		if c.detector != nil {
			p.IsSpeaking = c.detector.IsSpeaking(id)
		}
		out = append(out, p)
	}
	return out
}

// LinkCount returns the number of live peer links.
func (c *Controller) LinkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links)
}

// LinkState returns the negotiation state for the given participant, empty
// when no link exists.
func (c *Controller) LinkState(userID string) LinkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if link, ok := c.links[userID]; ok {
		return link.State()
	}
	return ""
}

// Close tears down every link and empties the roster. Safe to repeat.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	links := c.links
	sinks := c.sunk
	c.links = make(map[string]*PeerLink)
	c.sunk = make(map[string]VideoSink)
	c.roster = nil
	c.mu.Unlock()

	for userID, link := range links {
		link.close()
		if sink := sinks[userID]; sink != nil {
			sink.Detach()
		}
		if c.detector != nil {
			c.detector.Remove(userID)
		}
	}
	c.logger.Info("Closed %d links", len(links))
}
