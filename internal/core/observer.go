package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/SamuelLnds/confmesh/internal/domain"
)

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseActiveNotJoined Phase = "active-not-joined"
	PhaseJoining         Phase = "joining"
	PhaseJoined          Phase = "joined"
	PhaseLeaving         Phase = "leaving"
	PhaseError           Phase = "error"
)

// State is a snapshot of the conference state machine.
// ConferenceID and ParticipantIDs are empty while Idle; the local id is a
// member only while Joined.
type State struct {
	Phase          Phase                  `json:"phase"`
	ConferenceID   domain.ConferenceID    `json:"conferenceId,omitempty"`
	ParticipantIDs []domain.ParticipantID `json:"participantIds,omitempty"`
	Err            string                 `json:"error,omitempty"`
}

// ConferenceParticipant is the merged room/conference view handed to the UI.
type ConferenceParticipant struct {
	ID           domain.ParticipantID `json:"id"`
	Pseudo       string               `json:"pseudo"`
	IsSelf       bool                 `json:"isSelf"`
	InConference bool                 `json:"inConference"`
}

// Observer receives everything the core surfaces outward. Callbacks run on
// the goroutine that triggered the transition; implementations must not call
// back into the Conference from inside a callback.
type Observer interface {
	OnStateChanged(State)
	// OnRemoteTrack fires with a track when a peer's audio becomes available
	// and with nil when that peer's stream is gone.
	OnRemoteTrack(peer domain.ParticipantID, track *webrtc.TrackRemote)
	OnParticipantsChanged([]ConferenceParticipant)
	OnAnnouncement(domain.Announcement)
	OnError(msg string)
}

// NopObserver is embeddable so consumers only implement what they watch.
type NopObserver struct{}

func (NopObserver) OnStateChanged(State)                                  {}
func (NopObserver) OnRemoteTrack(domain.ParticipantID, *webrtc.TrackRemote) {}
func (NopObserver) OnParticipantsChanged([]ConferenceParticipant)         {}
func (NopObserver) OnAnnouncement(domain.Announcement)                    {}
func (NopObserver) OnError(string)                                        {}
