package mesh

import (
	"github.com/confmesh/confmesh/pkg/media"
)

// VideoSink is a rendering surface for one participant's remote stream. The
// controller attaches the stream when the participant's link is established
// and detaches it when the participant leaves.
type VideoSink interface {
	Attach(stream *media.Stream)
	Detach()
}

// SinkFactory produces the sink for a remote participant.
type SinkFactory func(userID string) VideoSink

// NullSink discards media. Used when the caller supplies no sink factory.
type NullSink struct{}

func (NullSink) Attach(*media.Stream) {}
func (NullSink) Detach()              {}
