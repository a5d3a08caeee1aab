package core

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/SamuelLnds/confmesh/internal/domain"
	"github.com/SamuelLnds/confmesh/internal/signal"
)

// WebRTCSender forwards one negotiation payload to a peer. SDP is set for
// offer/answer, cand for ice. The conference implements it and tags the
// payload with the current conference id.
type WebRTCSender func(to domain.ParticipantID, kind signal.WebRTCKind, sdp string, cand *webrtc.ICECandidateInit)

// peerLink is one negotiated connection toward a remote participant, owned by
// its map entry: removing the entry is the whole teardown.
type peerLink struct {
	conn      MediaConnection
	localSet  bool
	remoteSet bool
}

// Mesh owns one peer link per remote conference member and runs the
// offer/answer/candidate exchange for each of them. Candidates that race
// ahead of their session description are buffered per peer and flushed once
// the remote description lands.
type Mesh struct {
	ctx     context.Context
	newConn MediaConnectionFactory
	send    WebRTCSender

	mu      sync.Mutex
	links   map[domain.ParticipantID]*peerLink
	pending map[domain.ParticipantID][]webrtc.ICECandidateInit
	stream  *LocalStream

	onTrack func(peer domain.ParticipantID, track *webrtc.TrackRemote)
	onGone  func(peer domain.ParticipantID)
}

func NewMesh(ctx context.Context, factory MediaConnectionFactory, send WebRTCSender) *Mesh {
	return &Mesh{
		ctx:     ctx,
		newConn: factory,
		send:    send,
		links:   make(map[domain.ParticipantID]*peerLink),
		pending: make(map[domain.ParticipantID][]webrtc.ICECandidateInit),
	}
}

// OnRemoteTrack sets the callback fired when a peer's audio arrives.
func (m *Mesh) OnRemoteTrack(fn func(peer domain.ParticipantID, track *webrtc.TrackRemote)) {
	m.onTrack = fn
}

// OnLinkGone sets the callback fired when a peer's stream is gone, whether by
// explicit teardown or by the connection reaching a terminal state.
func (m *Mesh) OnLinkGone(fn func(peer domain.ParticipantID)) {
	m.onGone = fn
}

// SetLocalStream installs the shared local stream attached to every link
// created afterwards. The conference owns the stream; the mesh only borrows
// its tracks.
func (m *Mesh) SetLocalStream(s *LocalStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream = s
}

func (m *Mesh) HasLink(peer domain.ParticipantID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[peer]
	return ok
}

func (m *Mesh) LinkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// EnsureLink creates the link toward peer if none exists. As initiator it
// also produces and sends the session offer. Re-creation is a no-op.
func (m *Mesh) EnsureLink(peer domain.ParticipantID, initiator bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[peer]; ok {
		return
	}
	link, err := m.createLinkLocked(peer)
	if err != nil {
		log.Error().Err(err).Str("module", "core.mesh").Str("peer", string(peer)).Msg("create link")
		return
	}
	if !initiator {
		return
	}
	offer, err := link.conn.CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "core.mesh").Str("peer", string(peer)).Msg("create offer")
		m.teardownLocked(peer)
		return
	}
	link.localSet = true
	m.send(peer, signal.KindOffer, offer.SDP, nil)
}

// HandleOffer applies a remote offer, flushes candidates buffered for the
// sender, then answers. A link is created as non-initiator when none exists.
func (m *Mesh) HandleOffer(peer domain.ParticipantID, sdp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[peer]
	if !ok {
		var err error
		link, err = m.createLinkLocked(peer)
		if err != nil {
			log.Error().Err(err).Str("module", "core.mesh").Str("peer", string(peer)).Msg("create link for offer")
			return
		}
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := link.conn.ApplyRemoteDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "core.mesh").Str("peer", string(peer)).Msg("apply offer")
		m.teardownLocked(peer)
		return
	}
	link.remoteSet = true
	m.flushPendingLocked(peer, link)
	answer, err := link.conn.CreateAndSetAnswer()
	if err != nil {
		log.Error().Err(err).Str("module", "core.mesh").Str("peer", string(peer)).Msg("create answer")
		m.teardownLocked(peer)
		return
	}
	link.localSet = true
	m.send(peer, signal.KindAnswer, answer.SDP, nil)
}

// HandleAnswer applies a remote answer on the initiator-side link. An answer
// without a pre-existing link is discarded.
func (m *Mesh) HandleAnswer(peer domain.ParticipantID, sdp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[peer]
	if !ok {
		log.Warn().Str("module", "core.mesh").Str("peer", string(peer)).Msg("answer without link, discarded")
		return
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := link.conn.ApplyRemoteDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "core.mesh").Str("peer", string(peer)).Msg("apply answer")
		m.teardownLocked(peer)
		return
	}
	link.remoteSet = true
	m.flushPendingLocked(peer, link)
}

// HandleCandidate applies the candidate when both descriptions are already in
// place, otherwise buffers it for the flush that follows the description.
// Candidates racing ahead of descriptions is expected traffic, not an error.
func (m *Mesh) HandleCandidate(peer domain.ParticipantID, cand webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[peer]
	if !ok || !link.localSet || !link.remoteSet {
		m.pending[peer] = append(m.pending[peer], cand)
		return
	}
	if err := link.conn.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "core.mesh").Str("peer", string(peer)).Msg("add candidate")
		m.teardownLocked(peer)
	}
}

// Teardown closes peer's link, drops its buffered candidates and reports the
// stream as gone.
func (m *Mesh) Teardown(peer domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(peer)
}

// TeardownAll closes every tracked link. The caller still owns and releases
// the local stream afterwards.
func (m *Mesh) TeardownAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for peer := range m.links {
		m.teardownLocked(peer)
	}
	m.pending = make(map[domain.ParticipantID][]webrtc.ICECandidateInit)
}

func (m *Mesh) createLinkLocked(peer domain.ParticipantID) (*peerLink, error) {
	conn, err := m.newConn(peer)
	if err != nil {
		return nil, err
	}
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		m.send(peer, signal.KindICE, "", &ci)
	})
	conn.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if m.onTrack != nil {
			m.onTrack(peer, track)
		}
	})
	conn.OnClosed(func() {
		// Runs on the connection's goroutine; recover from silent network
		// failure even without a Left announcement.
		go m.linkTerminated(peer)
	})
	if err := conn.Start(m.ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if m.stream != nil {
		for _, track := range m.stream.Tracks {
			if _, err := conn.AddLocalTrack(track); err != nil {
				log.Error().Err(err).Str("module", "core.mesh").Str("peer", string(peer)).Msg("add local track")
			}
		}
	}
	link := &peerLink{conn: conn}
	m.links[peer] = link
	log.Info().Str("module", "core.mesh").Str("peer", string(peer)).Msg("link created")
	return link, nil
}

func (m *Mesh) flushPendingLocked(peer domain.ParticipantID, link *peerLink) {
	queued := m.pending[peer]
	delete(m.pending, peer)
	for _, cand := range queued {
		if err := link.conn.AddICECandidate(cand); err != nil {
			log.Error().Err(err).Str("module", "core.mesh").Str("peer", string(peer)).Msg("flush candidate")
		}
	}
}

func (m *Mesh) linkTerminated(peer domain.ParticipantID) {
	m.mu.Lock()
	_, existed := m.links[peer]
	if existed {
		m.teardownLocked(peer)
	}
	m.mu.Unlock()
}

func (m *Mesh) teardownLocked(peer domain.ParticipantID) {
	link, ok := m.links[peer]
	delete(m.pending, peer)
	if !ok {
		return
	}
	delete(m.links, peer)
	link.conn.Close()
	log.Info().Str("module", "core.mesh").Str("peer", string(peer)).Msg("link closed")
	if m.onGone != nil {
		m.onGone(peer)
	}
}
