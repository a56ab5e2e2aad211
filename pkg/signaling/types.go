package signaling

// MessageType identifies a signaling message variant
type MessageType string

const (
	TypeJoin         MessageType = "join"
	TypeLeave        MessageType = "leave"
	TypeRoomUsers    MessageType = "room_users"
	TypeUserJoined   MessageType = "user_joined"
	TypeUserLeft     MessageType = "user_left"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice_candidate"
	TypeError        MessageType = "error"
)

// Broadcast is the to_user value addressing every participant in the room.
const Broadcast = "*"

// Message is the signaling wire envelope, one JSON object per message. Which
// fields are populated depends on Type.
type Message struct {
	Type   MessageType `json:"type"`
	RoomID string      `json:"room_id,omitempty"`

	// join / leave / user_joined / user_left
	UserID string `json:"user_id,omitempty"`

	// room_users
	Users []string `json:"users,omitempty"`

	// offer / answer / ice_candidate
	FromUser  string `json:"from_user,omitempty"`
	ToUser    string `json:"to_user,omitempty"`
	SDP       string `json:"sdp,omitempty"`       // opaque serialized session description
	Candidate string `json:"candidate,omitempty"` // opaque serialized ICE candidate

	// error
	Message string `json:"message,omitempty"`
}

// AddressedTo reports whether the message is meant for the given user: it is
// either untargeted, broadcast, or addressed to them directly.
func (m *Message) AddressedTo(userID string) bool {
	return m.ToUser == "" || m.ToUser == Broadcast || m.ToUser == userID
}

// Handler consumes one inbound signaling message. Handlers are invoked by a
// single consumer, strictly in arrival order.
type Handler func(msg *Message)

// Channel is a persistent signaling connection for one room.
type Channel interface {
	// Connect establishes the channel. A failure is fatal to the caller's
	// join flow.
	Connect() error

	// JoinRoom and LeaveRoom send membership intents.
	JoinRoom(roomID, userID string) error
	LeaveRoom(roomID, userID string) error

	// SendOffer, SendAnswer and SendICECandidate each transmit one message.
	SendOffer(roomID, fromUser, toUser, sdp string) error
	SendAnswer(roomID, fromUser, toUser, sdp string) error
	SendICECandidate(roomID, fromUser, toUser, candidate string) error

	// OnMessage registers the single inbound handler.
	OnMessage(handler Handler)

	// Disconnect closes the channel. Idempotent.
	Disconnect()
}
