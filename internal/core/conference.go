package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/SamuelLnds/confmesh/internal/domain"
	"github.com/SamuelLnds/confmesh/internal/signal"
)

// recoveryDelay is how long the machine stays in Error before reverting to
// ActiveNotJoined or Idle on its own.
const recoveryDelay = 2 * time.Second

// Conference is the single source of truth for "am I in a conference, which
// one, who else is in it". There is no authoritative server state: membership
// is reconstructed from broadcast announcements and on-demand state exchange,
// so the machine is an eventually-consistent replica, not a primary.
//
// All mutation goes through its methods. Guards are re-evaluated after every
// suspension point (media acquisition, negotiation): an inbound envelope may
// interleave with an operation that is still in flight.
type Conference struct {
	self      domain.Participant
	room      domain.RoomName
	transport Transport
	media     MediaSource
	mesh      *Mesh
	roster    *Roster
	obs       Observer

	mu           sync.Mutex
	phase        Phase
	confID       domain.ConferenceID
	participants []domain.ParticipantID
	errMsg       string
	stream       *LocalStream
	revert       *time.Timer
	revertAfter  time.Duration
}

func NewConference(
	ctx context.Context,
	self domain.Participant,
	room domain.RoomName,
	transport Transport,
	media MediaSource,
	factory MediaConnectionFactory,
	obs Observer,
) *Conference {
	if obs == nil {
		obs = NopObserver{}
	}
	c := &Conference{
		self:        self,
		room:        room,
		transport:   transport,
		media:       media,
		roster:      NewRoster(self),
		obs:         obs,
		phase:       PhaseIdle,
		revertAfter: recoveryDelay,
	}
	c.mesh = NewMesh(ctx, factory, c.sendWebRTC)
	c.mesh.OnRemoteTrack(func(peer domain.ParticipantID, track *webrtc.TrackRemote) {
		obs.OnRemoteTrack(peer, track)
	})
	c.mesh.OnLinkGone(func(peer domain.ParticipantID) {
		obs.OnRemoteTrack(peer, nil)
	})
	return c
}

// State returns a snapshot of the machine.
func (c *Conference) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Participants returns the merged room/conference view.
func (c *Conference) Participants() []ConferenceParticipant {
	c.mu.Lock()
	inConf := append([]domain.ParticipantID(nil), c.participants...)
	c.mu.Unlock()
	return c.roster.View(inConf)
}

// Pseudo resolves a display name through the room roster.
func (c *Conference) Pseudo(id domain.ParticipantID) string {
	return c.roster.Lookup(id)
}

// StartOrJoin starts a new conference, or joins the one currently announced
// in the room. Calling it while already Joining or Joined is a no-op.
func (c *Conference) StartOrJoin(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case PhaseJoining, PhaseJoined, PhaseLeaving:
		c.mu.Unlock()
		return nil
	}
	c.stopRevertLocked()
	c.errMsg = ""
	c.phase = PhaseJoining
	state := c.stateLocked()
	c.mu.Unlock()
	c.obs.OnStateChanged(state)

	stream, err := c.media.Acquire(ctx)

	c.mu.Lock()
	if c.phase != PhaseJoining {
		// Torn down while we were acquiring; drop the result.
		c.mu.Unlock()
		if err == nil {
			c.media.Release(stream)
		}
		return nil
	}
	if err != nil {
		msg := fmt.Sprintf("cannot acquire audio: %v", err)
		c.failLocked(msg)
		return fmt.Errorf("start or join: %w", err)
	}

	c.stream = stream
	started := c.confID == ""
	if started {
		c.confID = mintConferenceID(c.room)
	}
	if !containsID(c.participants, c.self.ID) {
		c.participants = append(c.participants, c.self.ID)
	}
	c.phase = PhaseJoined
	others := c.othersInConferenceLocked()
	ann := c.announcementLocked(announcementTypeForStart(started))
	state = c.stateLocked()
	view := c.roster.View(c.participants)
	c.mu.Unlock()

	c.mesh.SetLocalStream(stream)
	c.broadcastAnnouncement(ann)
	// Open one connection per member already in, even when joining a
	// long-running conference with N existing members.
	for _, peer := range others {
		c.mesh.EnsureLink(peer, true)
	}

	log.Info().Str("module", "core.conference").
		Str("conference", string(state.ConferenceID)).
		Bool("started", started).
		Int("peers", len(others)).
		Msg("joined conference")
	c.obs.OnStateChanged(state)
	c.obs.OnParticipantsChanged(view)
	return nil
}

// Leave exits the conference. Valid only from Joined; otherwise a no-op.
func (c *Conference) Leave() {
	c.mu.Lock()
	if c.phase != PhaseJoined {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseLeaving
	remaining := removeID(c.participants, c.self.ID)
	var ann domain.Announcement
	if len(remaining) == 0 {
		ann = c.announcementLocked(domain.AnnouncementEnded)
		ann.ParticipantIDs = nil
		c.confID = ""
		c.participants = nil
		c.phase = PhaseIdle
	} else {
		c.participants = remaining
		ann = c.announcementLocked(domain.AnnouncementLeft)
		c.phase = PhaseActiveNotJoined
	}
	stream := c.stream
	c.stream = nil
	state := c.stateLocked()
	view := c.roster.View(c.participants)
	c.mu.Unlock()

	c.broadcastAnnouncement(ann)
	c.mesh.TeardownAll()
	c.mesh.SetLocalStream(nil)
	if stream != nil {
		c.media.Release(stream)
	}

	log.Info().Str("module", "core.conference").Str("phase", string(state.Phase)).Msg("left conference")
	c.obs.OnStateChanged(state)
	c.obs.OnParticipantsChanged(view)
}

// RequestConferenceState asks the room whether a conference is running.
// Only meaningful while Idle; the response is handled asynchronously.
func (c *Conference) RequestConferenceState() {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.broadcast(signal.Envelope{
		SenderID:     c.self.ID,
		RoomName:     c.room,
		Type:         signal.TypeStateRequest,
		StateRequest: &signal.StateRequest{FromID: c.self.ID},
	})
}

// HandleEnvelope routes one inbound envelope. Everything that fails the
// filtering contract is discarded silently: that is expected traffic noise in
// a broadcast design, never an error.
func (c *Conference) HandleEnvelope(env signal.Envelope) {
	if c.self.ID == "" || env.SenderID == c.self.ID || env.RoomName != c.room {
		return
	}
	switch env.Type {
	case signal.TypeWebRTC:
		c.handleWebRTC(env)
	case signal.TypeAnnouncement:
		if env.Announcement != nil {
			c.handleAnnouncement(*env.Announcement)
		}
	case signal.TypeStateRequest:
		c.handleStateRequest(env)
	case signal.TypeStateResponse:
		c.handleStateResponse(env)
	default:
		log.Warn().Str("module", "core.conference").Str("type", string(env.Type)).Msg("unknown signal type")
	}
}

// UpdateRoster replaces the room membership wholesale from a full snapshot.
func (c *Conference) UpdateRoster(entries []domain.Participant) {
	c.roster.Replace(entries)
	c.mu.Lock()
	view := c.roster.View(c.participants)
	c.mu.Unlock()
	c.obs.OnParticipantsChanged(view)
}

// RemoveRoomParticipant drops one participant on a disconnect notification.
// If they were also a conference member this counts as their Left
// announcement: same removal, same link teardown.
func (c *Conference) RemoveRoomParticipant(id domain.ParticipantID) {
	c.roster.Remove(id)
	c.mu.Lock()
	if containsID(c.participants, id) {
		synthetic := domain.Announcement{
			Type:           domain.AnnouncementLeft,
			ConferenceID:   c.confID,
			ParticipantID:  id,
			ParticipantIDs: removeID(c.participants, id),
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
		}
		c.mu.Unlock()
		c.applyLeft(synthetic)
		return
	}
	view := c.roster.View(c.participants)
	c.mu.Unlock()
	c.obs.OnParticipantsChanged(view)
}

// --- inbound dispatch -------------------------------------------------------

func (c *Conference) handleWebRTC(env signal.Envelope) {
	p := env.WebRTC
	if p == nil {
		return
	}
	c.mu.Lock()
	joined := c.phase == PhaseJoining || c.phase == PhaseJoined
	match := c.confID != "" && p.ConferenceID == c.confID
	c.mu.Unlock()
	if !joined || !match {
		return
	}
	switch p.Kind {
	case signal.KindOffer:
		c.mesh.HandleOffer(env.SenderID, p.SDP)
	case signal.KindAnswer:
		c.mesh.HandleAnswer(env.SenderID, p.SDP)
	case signal.KindICE:
		if p.Candidate != nil {
			c.mesh.HandleCandidate(env.SenderID, *p.Candidate)
		}
	}
}

func (c *Conference) handleAnnouncement(a domain.Announcement) {
	c.obs.OnAnnouncement(a)
	switch a.Type {
	case domain.AnnouncementStarted:
		c.applyStarted(a)
	case domain.AnnouncementJoined:
		c.applyJoined(a)
	case domain.AnnouncementLeft:
		c.applyLeft(a)
	case domain.AnnouncementEnded:
		c.applyEnded(a)
	}
}

// applyStarted adopts an announced conference while not joined. Last writer
// wins; the first announcement a client observes is the reference for
// simultaneous starts, a losing starter's id is simply abandoned.
func (c *Conference) applyStarted(a domain.Announcement) {
	c.mu.Lock()
	if c.phase != PhaseIdle && c.phase != PhaseActiveNotJoined {
		c.mu.Unlock()
		return
	}
	c.adoptLocked(a.ConferenceID, a.ParticipantIDs)
	state := c.stateLocked()
	view := c.roster.View(c.participants)
	c.mu.Unlock()
	log.Info().Str("module", "core.conference").Str("conference", string(a.ConferenceID)).Msg("conference announced")
	c.obs.OnStateChanged(state)
	c.obs.OnParticipantsChanged(view)
}

func (c *Conference) applyJoined(a domain.Announcement) {
	c.mu.Lock()
	if c.confID == "" {
		// Discovery fallback: a Joined for a conference we never heard of.
		if c.phase != PhaseIdle {
			c.mu.Unlock()
			return
		}
		c.adoptLocked(a.ConferenceID, a.ParticipantIDs)
		state := c.stateLocked()
		view := c.roster.View(c.participants)
		c.mu.Unlock()
		c.obs.OnStateChanged(state)
		c.obs.OnParticipantsChanged(view)
		return
	}
	if a.ConferenceID != c.confID {
		c.mu.Unlock()
		return
	}
	if !containsID(c.participants, a.ParticipantID) {
		c.participants = append(c.participants, a.ParticipantID)
	}
	initiate := c.phase == PhaseJoined
	state := c.stateLocked()
	view := c.roster.View(c.participants)
	c.mu.Unlock()

	if initiate {
		c.mesh.EnsureLink(a.ParticipantID, true)
	}
	c.obs.OnStateChanged(state)
	c.obs.OnParticipantsChanged(view)
}

func (c *Conference) applyLeft(a domain.Announcement) {
	c.mu.Lock()
	if c.confID == "" || a.ConferenceID != c.confID {
		c.mu.Unlock()
		return
	}
	c.participants = removeID(c.participants, a.ParticipantID)
	empty := len(c.participants) == 0
	if empty {
		// Conference over. A lone remaining member keeps it alive, so this
		// only happens while not joined ourselves.
		c.confID = ""
		c.participants = nil
		if c.phase == PhaseActiveNotJoined {
			c.phase = PhaseIdle
		}
	}
	state := c.stateLocked()
	view := c.roster.View(c.participants)
	c.mu.Unlock()

	c.mesh.Teardown(a.ParticipantID)
	c.obs.OnStateChanged(state)
	c.obs.OnParticipantsChanged(view)
}

func (c *Conference) applyEnded(a domain.Announcement) {
	c.mu.Lock()
	if c.confID == "" || a.ConferenceID != c.confID {
		c.mu.Unlock()
		return
	}
	c.confID = ""
	c.participants = nil
	c.errMsg = ""
	c.phase = PhaseIdle
	stream := c.stream
	c.stream = nil
	state := c.stateLocked()
	view := c.roster.View(nil)
	c.mu.Unlock()

	c.mesh.TeardownAll()
	c.mesh.SetLocalStream(nil)
	if stream != nil {
		c.media.Release(stream)
	}
	log.Info().Str("module", "core.conference").Msg("conference ended")
	c.obs.OnStateChanged(state)
	c.obs.OnParticipantsChanged(view)
}

func (c *Conference) handleStateRequest(env signal.Envelope) {
	c.mu.Lock()
	if c.phase != PhaseJoined {
		c.mu.Unlock()
		return
	}
	resp := signal.Envelope{
		SenderID: c.self.ID,
		RoomName: c.room,
		Type:     signal.TypeStateResponse,
		StateResponse: &signal.StateResponse{
			ConferenceID:   c.confID,
			ParticipantIDs: append([]domain.ParticipantID(nil), c.participants...),
		},
	}
	c.mu.Unlock()
	if err := c.transport.SendTo(env.SenderID, resp); err != nil {
		log.Warn().Err(err).Str("module", "core.conference").Str("to", string(env.SenderID)).Msg("state response send")
	}
}

func (c *Conference) handleStateResponse(env signal.Envelope) {
	r := env.StateResponse
	if r == nil {
		return
	}
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return
	}
	c.adoptLocked(r.ConferenceID, r.ParticipantIDs)
	state := c.stateLocked()
	view := c.roster.View(c.participants)
	c.mu.Unlock()
	c.obs.OnStateChanged(state)
	c.obs.OnParticipantsChanged(view)
}

// --- outbound ---------------------------------------------------------------

func (c *Conference) sendWebRTC(to domain.ParticipantID, kind signal.WebRTCKind, sdp string, cand *webrtc.ICECandidateInit) {
	c.mu.Lock()
	id := c.confID
	c.mu.Unlock()
	env := signal.Envelope{
		SenderID: c.self.ID,
		RoomName: c.room,
		Type:     signal.TypeWebRTC,
		WebRTC: &signal.WebRTCPayload{
			ConferenceID: id,
			Kind:         kind,
			SDP:          sdp,
			Candidate:    cand,
		},
	}
	if err := c.transport.SendTo(to, env); err != nil {
		log.Warn().Err(err).Str("module", "core.conference").Str("to", string(to)).Str("kind", string(kind)).Msg("webrtc send")
	}
}

func (c *Conference) broadcastAnnouncement(a domain.Announcement) {
	c.broadcast(signal.Envelope{
		SenderID:     c.self.ID,
		RoomName:     c.room,
		Type:         signal.TypeAnnouncement,
		Announcement: &a,
	})
}

func (c *Conference) broadcast(env signal.Envelope) {
	for _, to := range c.roster.Others() {
		if err := c.transport.SendTo(to, env); err != nil {
			log.Warn().Err(err).Str("module", "core.conference").Str("to", string(to)).Msg("broadcast send")
		}
	}
}

// --- internals --------------------------------------------------------------

func (c *Conference) stateLocked() State {
	return State{
		Phase:          c.phase,
		ConferenceID:   c.confID,
		ParticipantIDs: append([]domain.ParticipantID(nil), c.participants...),
		Err:            c.errMsg,
	}
}

func (c *Conference) adoptLocked(id domain.ConferenceID, participants []domain.ParticipantID) {
	c.confID = id
	c.participants = append([]domain.ParticipantID(nil), participants...)
	c.phase = PhaseActiveNotJoined
}

func (c *Conference) announcementLocked(t domain.AnnouncementType) domain.Announcement {
	return domain.Announcement{
		Type:              t,
		ConferenceID:      c.confID,
		ParticipantID:     c.self.ID,
		ParticipantPseudo: c.self.Pseudo,
		ParticipantIDs:    append([]domain.ParticipantID(nil), c.participants...),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}
}

func (c *Conference) othersInConferenceLocked() []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(c.participants))
	for _, id := range c.participants {
		if id != c.self.ID {
			out = append(out, id)
		}
	}
	return out
}

// failLocked enters Error and arms the auto-revert timer. Expects the mutex
// held; unlocks before notifying.
func (c *Conference) failLocked(msg string) {
	c.phase = PhaseError
	c.errMsg = msg
	c.stopRevertLocked()
	c.revert = time.AfterFunc(c.revertAfter, c.revertFromError)
	state := c.stateLocked()
	c.mu.Unlock()
	log.Error().Str("module", "core.conference").Str("reason", msg).Msg("conference error")
	c.obs.OnError(msg)
	c.obs.OnStateChanged(state)
}

func (c *Conference) revertFromError() {
	c.mu.Lock()
	if c.phase != PhaseError {
		c.mu.Unlock()
		return
	}
	c.errMsg = ""
	if c.confID != "" {
		c.phase = PhaseActiveNotJoined
	} else {
		c.phase = PhaseIdle
	}
	state := c.stateLocked()
	c.mu.Unlock()
	c.obs.OnStateChanged(state)
}

// stopRevertLocked cancels the pending auto-revert so that an explicit state
// change cannot race the timer.
func (c *Conference) stopRevertLocked() {
	if c.revert != nil {
		c.revert.Stop()
		c.revert = nil
	}
}

func mintConferenceID(room domain.RoomName) domain.ConferenceID {
	// Unique enough across concurrent starts; collisions resolve by the
	// first Started announcement observed winning.
	suffix := uuid.NewString()[:8]
	return domain.ConferenceID(fmt.Sprintf("conf-%s-%d-%s", room, time.Now().UnixMilli(), suffix))
}

func announcementTypeForStart(started bool) domain.AnnouncementType {
	if started {
		return domain.AnnouncementStarted
	}
	return domain.AnnouncementJoined
}

func containsID(ids []domain.ParticipantID, id domain.ParticipantID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []domain.ParticipantID, id domain.ParticipantID) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
