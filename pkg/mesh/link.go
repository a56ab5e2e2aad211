package mesh

import (
	"encoding/binary"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/confmesh/confmesh/pkg/media"
)

// LinkState is the negotiation state of a peer link.
type LinkState string

const (
	// LinkConnecting: local offer sent, awaiting the answer.
	LinkConnecting LinkState = "connecting"
	// LinkNegotiated: the remote description has been applied.
	LinkNegotiated LinkState = "negotiated"
	// LinkClosed: the link has been torn down.
	LinkClosed LinkState = "closed"
)

const (
	audioChannelLabel = "audio"
	videoChannelLabel = "video"
)

// DefaultSTUNServers is the static public STUN list used when no override is
// configured. No TURN: cross-NAT failure is a known limitation.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// PeerLink owns the connection to one remote participant: the pion peer
// connection, the media data channels, and the remote stream the inbound
// audio is written into. Media travels over data channels as raw PCM16
// frames, which sidesteps codec negotiation entirely.
type PeerLink struct {
	userID     string
	controller *Controller
	pc         *webrtc.PeerConnection

	remoteStream *media.Stream
	remoteAudio  *media.Track

	mu           sync.Mutex
	state        LinkState
	connState    webrtc.PeerConnectionState
	hasVideo     bool
	localCancels []func()
}

// newPeerLink creates a link to the given participant. When offerer is true
// the media data channels are created here so they appear in the offer;
// otherwise they arrive via OnDataChannel.
func newPeerLink(c *Controller, userID string, offerer bool) (*PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: c.iceServers},
		},
	})
	if err != nil {
		return nil, err
	}

	remoteAudio := media.NewAudioTrack(userID + "-audio")
	link := &PeerLink{
		userID:       userID,
		controller:   c,
		pc:           pc,
		remoteAudio:  remoteAudio,
		remoteStream: media.NewStream("remote-"+userID, remoteAudio),
		state:        LinkConnecting,
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		link.controller.sendCandidate(userID, candidate)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("Connection state with %s: %s", userID, state)
		link.mu.Lock()
		link.connState = state
		link.mu.Unlock()
		// Connection-level failures are not recovered here: cleanup
		// happens only on an explicit user_left signal.
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		link.bindChannel(dc)
	})

	if offerer {
		audioDC, err := pc.CreateDataChannel(audioChannelLabel, nil)
		if err != nil {
			pc.Close()
			return nil, err
		}
		link.bindChannel(audioDC)

		if len(c.localStream.VideoTracks()) > 0 {
			videoDC, err := pc.CreateDataChannel(videoChannelLabel, nil)
			if err != nil {
				pc.Close()
				return nil, err
			}
			link.bindChannel(videoDC)
		}
	}

	return link, nil
}

// bindChannel wires a media data channel in both directions: local track
// frames go out, inbound frames land in the remote track.
func (l *PeerLink) bindChannel(dc *webrtc.DataChannel) {
	switch dc.Label() {
	case audioChannelLabel:
		dc.OnOpen(func() {
			l.attachLocalAudio(dc)
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			l.remoteAudio.WriteSamples(bytesToSamples(msg.Data))
		})
	case videoChannelLabel:
		l.mu.Lock()
		l.hasVideo = true
		l.mu.Unlock()
	default:
		l.controller.logger.Debug("Ignoring data channel %q from %s", dc.Label(), l.userID)
	}
}

// attachLocalAudio subscribes the local audio tracks and forwards each frame
// over the channel.
func (l *PeerLink) attachLocalAudio(dc *webrtc.DataChannel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return
	}

	for _, track := range l.controller.localStream.AudioTracks() {
		cancel := track.Subscribe(func(frame []int16) {
			if dc.ReadyState() == webrtc.DataChannelStateOpen {
				_ = dc.Send(samplesToBytes(frame))
			}
		})
		l.localCancels = append(l.localCancels, cancel)
	}
}

// UserID returns the remote participant id
func (l *PeerLink) UserID() string {
	return l.userID
}

// State returns the negotiation state
func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RemoteStream returns the stream carrying this participant's inbound media.
func (l *PeerLink) RemoteStream() *media.Stream {
	return l.remoteStream
}

// HasVideo reports whether the remote side announced a video channel
func (l *PeerLink) HasVideo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasVideo
}

func (l *PeerLink) setNegotiated() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkClosed {
		l.state = LinkNegotiated
	}
}

// close tears the link down: local track subscriptions first, then the peer
// connection, then the remote stream.
func (l *PeerLink) close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	cancels := l.localCancels
	l.localCancels = nil
	l.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	l.pc.Close()
	l.remoteStream.StopTracks()
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func bytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
