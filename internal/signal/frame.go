package signal

import "github.com/SamuelLnds/confmesh/internal/domain"

type FrameKind string

const (
	// FrameSignal routes one envelope to the recipient named in To.
	FrameSignal FrameKind = "signal"
	// FrameRoster delivers a full room snapshot (never a delta).
	FrameRoster FrameKind = "roster"
	// FramePeerLeft notifies that one participant dropped off the room.
	FramePeerLeft FrameKind = "peer-left"
)

// Frame is what actually travels over the websocket between a client and the
// relay: either a routed envelope or one of the room membership feed messages.
type Frame struct {
	Kind FrameKind            `json:"kind"`
	To   domain.ParticipantID `json:"to,omitempty"`

	Envelope     *Envelope            `json:"envelope,omitempty"`
	Participants []domain.Participant `json:"participants,omitempty"`
	PeerID       domain.ParticipantID `json:"peerId,omitempty"`
}
