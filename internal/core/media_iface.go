package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/SamuelLnds/confmesh/internal/domain"
)

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	// CreateAndSetOffer produces the local offer and sets it as local description.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// CreateAndSetAnswer produces the local answer and sets it as local description.
	CreateAndSetAnswer() (*webrtc.SessionDescription, error)
	// ApplyRemoteDescription applies a remote offer or answer.
	ApplyRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnClosed sets a callback fired once when the connection reaches a terminal state.
	OnClosed(func())
	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
}

// MediaConnectionFactory builds the negotiated connection toward one peer.
type MediaConnectionFactory func(peer domain.ParticipantID) (MediaConnection, error)

var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
)

// LocalStream is the single shared local audio resource. Every peer link
// attaches the same tracks; the conference owns it and releases it exactly
// once on full teardown.
type LocalStream struct {
	Tracks []webrtc.TrackLocal

	stop func()
}

func NewLocalStream(tracks []webrtc.TrackLocal, stop func()) *LocalStream {
	return &LocalStream{Tracks: tracks, stop: stop}
}

// Stop halts the capture pump behind the tracks. Called by MediaSource.Release.
func (s *LocalStream) Stop() {
	if s.stop != nil {
		s.stop()
	}
}

// MediaSource acquires and releases the local audio capture stream.
type MediaSource interface {
	Acquire(ctx context.Context) (*LocalStream, error)
	Release(*LocalStream)
}
