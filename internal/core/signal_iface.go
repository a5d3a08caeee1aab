package core

import (
	"github.com/SamuelLnds/confmesh/internal/domain"
	"github.com/SamuelLnds/confmesh/internal/signal"
)

// Frame is a raw encoded payload.
type Frame []byte

// Transport abstracts the signaling channel.
// Owned by the adapter; the adapter must Close() it.
// SendTo addresses exactly one recipient. Broadcasts are done by the caller
// iterating the room roster, there is no multicast primitive assumed.
type Transport interface {
	SendTo(to domain.ParticipantID, env signal.Envelope) error
	Close()
}
