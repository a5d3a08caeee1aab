// Package signal defines the wire model routed through the signaling
// transport: a tagged union over signalType, wrapped with routing metadata.
package signal

import (
	"github.com/pion/webrtc/v4"

	"github.com/SamuelLnds/confmesh/internal/domain"
)

type Type string

const (
	TypeWebRTC        Type = "webrtc"
	TypeAnnouncement  Type = "announcement"
	TypeStateRequest  Type = "state-request"
	TypeStateResponse Type = "state-response"
)

type WebRTCKind string

const (
	KindOffer  WebRTCKind = "offer"
	KindAnswer WebRTCKind = "answer"
	KindICE    WebRTCKind = "ice"
)

// WebRTCPayload carries one step of the offer/answer/candidate exchange.
// SDP is set for offer/answer, Candidate for ice.
type WebRTCPayload struct {
	ConferenceID domain.ConferenceID      `json:"conferenceId"`
	Kind         WebRTCKind               `json:"kind"`
	SDP          string                   `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type StateRequest struct {
	FromID domain.ParticipantID `json:"fromId"`
}

type StateResponse struct {
	ConferenceID   domain.ConferenceID    `json:"conferenceId"`
	ParticipantIDs []domain.ParticipantID `json:"participantIds"`
}

// Envelope wraps every payload with routing metadata. Exactly one of the
// payload pointers matching Type is non-nil.
type Envelope struct {
	SenderID domain.ParticipantID `json:"senderId"`
	RoomName domain.RoomName      `json:"roomName"`
	Type     Type                 `json:"signalType"`

	WebRTC        *WebRTCPayload       `json:"webrtc,omitempty"`
	Announcement  *domain.Announcement `json:"announcement,omitempty"`
	StateRequest  *StateRequest        `json:"stateRequest,omitempty"`
	StateResponse *StateResponse       `json:"stateResponse,omitempty"`
}
