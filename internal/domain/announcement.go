package domain

type AnnouncementType string

const (
	AnnouncementStarted AnnouncementType = "started"
	AnnouncementEnded   AnnouncementType = "ended"
	AnnouncementJoined  AnnouncementType = "joined"
	AnnouncementLeft    AnnouncementType = "left"
)

// Announcement is the immutable value broadcast to every room member on a
// membership transition. ParticipantIDs carries the sender's authoritative
// resulting participant set at emission time, not a delta.
type Announcement struct {
	Type              AnnouncementType `json:"type"`
	ConferenceID      ConferenceID     `json:"conferenceId"`
	ParticipantID     ParticipantID    `json:"participantId"`
	ParticipantPseudo string           `json:"participantPseudo"`
	ParticipantIDs    []ParticipantID  `json:"participantIds"`
	Timestamp         string           `json:"timestamp"`
}
