package core

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/SamuelLnds/confmesh/internal/domain"
	"github.com/SamuelLnds/confmesh/internal/signal"
)

type sentEnvelope struct {
	to  domain.ParticipantID
	env signal.Envelope
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentEnvelope
}

func (t *fakeTransport) SendTo(to domain.ParticipantID, env signal.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, sentEnvelope{to: to, env: env})
	return nil
}

func (t *fakeTransport) Close() {}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) byType(typ signal.Type) []sentEnvelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentEnvelope
	for _, s := range t.sent {
		if s.env.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func (t *fakeTransport) webrtcByKind(kind signal.WebRTCKind) []sentEnvelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []sentEnvelope
	for _, s := range t.sent {
		if s.env.Type == signal.TypeWebRTC && s.env.WebRTC != nil && s.env.WebRTC.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeMediaSource struct {
	mu       sync.Mutex
	err      error
	acquired int
	released int
}

func (m *fakeMediaSource) Acquire(context.Context) (*LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	return NewLocalStream(nil, func() {}), nil
}

func (m *fakeMediaSource) Release(*LocalStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

func (m *fakeMediaSource) releasedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

type fakeConn struct {
	mu         sync.Mutex
	peer       domain.ParticipantID
	started    bool
	closed     bool
	localSDP   string
	remoteSDP  string
	candidates []webrtc.ICECandidateInit
	tracks     int

	failApplyRemote error

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()
}

func (c *fakeConn) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localSDP = "offer-for-" + string(c.peer)
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: c.localSDP}, nil
}

func (c *fakeConn) CreateAndSetAnswer() (*webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localSDP = "answer-for-" + string(c.peer)
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: c.localSDP}, nil
}

func (c *fakeConn) ApplyRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failApplyRemote != nil {
		return c.failApplyRemote
	}
	c.remoteSDP = desc.SDP
	return nil
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

func (c *fakeConn) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

func (c *fakeConn) OnClosed(fn func()) { c.onClosed = fn }

func (c *fakeConn) AddLocalTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks++
	return nil, nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) candidateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}

type fakeFactory struct {
	mu    sync.Mutex
	conns map[domain.ParticipantID]*fakeConn
	fail  map[domain.ParticipantID]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		conns: make(map[domain.ParticipantID]*fakeConn),
		fail:  make(map[domain.ParticipantID]error),
	}
}

func (f *fakeFactory) factory() MediaConnectionFactory {
	return func(peer domain.ParticipantID) (MediaConnection, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := f.fail[peer]; err != nil {
			return nil, err
		}
		conn := &fakeConn{peer: peer}
		f.conns[peer] = conn
		return conn, nil
	}
}

func (f *fakeFactory) conn(peer domain.ParticipantID) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[peer]
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type recObserver struct {
	mu        sync.Mutex
	states    []State
	gone      []domain.ParticipantID
	anns      []domain.Announcement
	errs      []string
	viewCalls int
}

func newRecObserver() *recObserver { return &recObserver{} }

func (o *recObserver) OnStateChanged(st State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, st)
}

func (o *recObserver) OnRemoteTrack(peer domain.ParticipantID, track *webrtc.TrackRemote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if track == nil {
		o.gone = append(o.gone, peer)
	}
}

func (o *recObserver) OnParticipantsChanged([]ConferenceParticipant) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.viewCalls++
}

func (o *recObserver) OnAnnouncement(a domain.Announcement) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.anns = append(o.anns, a)
}

func (o *recObserver) OnError(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, msg)
}

func (o *recObserver) phases() []Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Phase, 0, len(o.states))
	for _, st := range o.states {
		out = append(out, st.Phase)
	}
	return out
}

func (o *recObserver) errCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.errs)
}
