package domain

type (
	RoomName     string
	ConferenceID string
)
