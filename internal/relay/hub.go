// Package relay is the in-memory signaling relay: it owns no conference
// state, it only routes envelopes point-to-point inside a room and feeds the
// clients full roster snapshots and departure notices.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/SamuelLnds/confmesh/internal/core"
	"github.com/SamuelLnds/confmesh/internal/domain"
	"github.com/SamuelLnds/confmesh/internal/signal"
)

var ErrBackpressure = errors.New("backpressure")

const writeDeadline = 5 * time.Second

type memberConn struct {
	participant domain.Participant
	conn        *websocket.Conn
	send        chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *memberConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *memberConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// RoomInfo is a read-only view for the REST surface.
type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"memberCount"`
}

// Hub is a threadsafe in-memory registry of room-keyed member connections.
type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]map[domain.ParticipantID]*memberConn
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.RoomName]map[domain.ParticipantID]*memberConn)}
}

// ServeConn runs the member's pumps until the socket drops, then removes it
// and notifies the room. Blocks in the read loop.
func (h *Hub) ServeConn(ctx context.Context, room domain.RoomName, p domain.Participant, ws *websocket.Conn) {
	mc := &memberConn{
		participant: p,
		conn:        ws,
		send:        make(chan core.Frame, 32),
	}
	h.join(room, mc)
	h.broadcastRoster(room)

	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, mc)
	h.readPump(ctx, room, mc)
	cancel()

	// A reconnect with the same id replaces this entry before the old socket
	// unwinds; only the connection still registered announces the departure.
	if h.leave(room, mc) {
		h.broadcastPeerLeft(room, p.ID)
		h.broadcastRoster(room)
	}
}

func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for name, members := range h.rooms {
		out = append(out, RoomInfo{Name: name, MemberCount: len(members)})
	}
	return out
}

func (h *Hub) join(room domain.RoomName, mc *memberConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[domain.ParticipantID]*memberConn)
		h.rooms[room] = members
	}
	if old, ok := members[mc.participant.ID]; ok {
		// One connection per id; the newer one wins.
		old.Close()
	}
	members[mc.participant.ID] = mc
	log.Info().Str("module", "relay").Str("room", string(room)).Str("id", string(mc.participant.ID)).Msg("member joined")
}

// leave removes mc from the room and reports whether it was still the
// registered connection for its id. A stale entry (already replaced by a
// reconnect) is left untouched.
func (h *Hub) leave(room domain.RoomName, mc *memberConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := mc.participant.ID
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if members[id] != mc {
		return false
	}
	mc.Close()
	delete(members, id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	log.Info().Str("module", "relay").Str("room", string(room)).Str("id", string(id)).Msg("member left")
	return true
}

// route forwards one addressed frame. Unaddressed or unroutable frames are
// dropped silently; that is expected noise, not an error.
func (h *Hub) route(room domain.RoomName, from domain.ParticipantID, frame signal.Frame) {
	if frame.Kind != signal.FrameSignal || frame.Envelope == nil || frame.To == "" {
		return
	}
	// The relay stamps the routing metadata; clients cannot spoof it.
	frame.Envelope.SenderID = from
	frame.Envelope.RoomName = room

	h.mu.RLock()
	mc, ok := h.rooms[room][frame.To]
	h.mu.RUnlock()
	if !ok {
		return
	}
	b, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal frame")
		return
	}
	if err := mc.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("to", string(frame.To)).Msg("route send")
	}
}

func (h *Hub) snapshot(room domain.RoomName) []domain.Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	out := make([]domain.Participant, 0, len(members))
	for _, mc := range members {
		out = append(out, mc.participant)
	}
	return out
}

func (h *Hub) broadcastRoster(room domain.RoomName) {
	h.broadcast(room, signal.Frame{Kind: signal.FrameRoster, Participants: h.snapshot(room)})
}

func (h *Hub) broadcastPeerLeft(room domain.RoomName, id domain.ParticipantID) {
	h.broadcast(room, signal.Frame{Kind: signal.FramePeerLeft, PeerID: id})
}

func (h *Hub) broadcast(room domain.RoomName, frame signal.Frame) {
	b, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal frame")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, mc := range h.rooms[room] {
		if err := mc.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("to", string(id)).Msg("broadcast send")
		}
	}
}

func (h *Hub) writePump(ctx context.Context, mc *memberConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-mc.send:
			if !ok {
				return
			}
			if err := mc.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := mc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, room domain.RoomName, mc *memberConn) {
	defer mc.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := mc.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "relay").Str("id", string(mc.participant.ID)).Msg("readPump read error")
				return
			}
			var frame signal.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("bad frame json")
				continue
			}
			h.route(room, mc.participant.ID, frame)
		}
	}
}
