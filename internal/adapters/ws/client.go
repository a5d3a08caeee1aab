// Package ws is the client side of the signaling transport: one websocket
// toward the relay, read and write pumps, and the room membership feed.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
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

// Client implements core.Transport over one websocket to the relay.
type Client struct {
	conn *websocket.Conn
	send chan core.Frame
	self domain.Participant
	room domain.RoomName

	mu     sync.RWMutex
	closed bool

	onEnvelope func(signal.Envelope)
	onRoster   func([]domain.Participant)
	onPeerLeft func(domain.ParticipantID)
}

// Dial connects to the relay and identifies as self in room. Start must be
// called afterwards to run the pumps.
func Dial(ctx context.Context, rawURL string, room domain.RoomName, self domain.Participant) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("room", string(room))
	q.Set("id", string(self.ID))
	q.Set("pseudo", self.Pseudo)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		send: make(chan core.Frame, 32),
		self: self,
		room: room,
	}, nil
}

// OnEnvelope sets the inbound envelope handler. Set before Start.
func (c *Client) OnEnvelope(fn func(signal.Envelope)) { c.onEnvelope = fn }

// OnRoster sets the full-snapshot roster handler. Set before Start.
func (c *Client) OnRoster(fn func([]domain.Participant)) { c.onRoster = fn }

// OnPeerLeft sets the departure notification handler. Set before Start.
func (c *Client) OnPeerLeft(fn func(domain.ParticipantID)) { c.onPeerLeft = fn }

// Start runs the read and write pumps until ctx is done or the socket drops.
func (c *Client) Start(ctx context.Context) {
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// SendTo routes an envelope to one recipient through the relay.
func (c *Client) SendTo(to domain.ParticipantID, env signal.Envelope) error {
	frame := signal.Frame{Kind: signal.FrameSignal, To: to, Envelope: &env}
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.trySend(b)
}

func (c *Client) trySend(f core.Frame) error {
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

func (c *Client) Close() {
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

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "ws").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "ws").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		log.Info().Str("module", "ws").Str("id", string(c.self.ID)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "ws").Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("readPump read error")
				return
			}
			c.handleFrame(data)
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame signal.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad frame json")
		return
	}
	switch frame.Kind {
	case signal.FrameSignal:
		if frame.Envelope != nil && c.onEnvelope != nil {
			c.onEnvelope(*frame.Envelope)
		}
	case signal.FrameRoster:
		if c.onRoster != nil {
			c.onRoster(frame.Participants)
		}
	case signal.FramePeerLeft:
		if c.onPeerLeft != nil {
			c.onPeerLeft(frame.PeerID)
		}
	default:
		log.Warn().Str("module", "ws").Str("kind", string(frame.Kind)).Msg("unknown frame kind")
	}
}
