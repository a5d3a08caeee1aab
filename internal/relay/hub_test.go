package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SamuelLnds/confmesh/internal/config"
	"github.com/SamuelLnds/confmesh/internal/domain"
	"github.com/SamuelLnds/confmesh/internal/signal"
)

func newRelayServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	router := SetupRouter(context.Background(), &config.Config{Mode: "release"}, hub)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dialMember(t *testing.T, srv *httptest.Server, room, id, pseudo string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/ws/signal?room=" + room + "&id=" + id + "&pseudo=" + pseudo
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", id, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readFrameUntil reads frames off ws until pred accepts one, failing the test
// on timeout. Intermediate frames (extra roster snapshots) are skipped.
func readFrameUntil(t *testing.T, ws *websocket.Conn, pred func(signal.Frame) bool) signal.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := ws.SetReadDeadline(deadline); err != nil {
			t.Fatalf("set read deadline: %v", err)
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		var frame signal.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("bad frame json: %v", err)
		}
		if pred(frame) {
			return frame
		}
	}
	t.Fatal("expected frame never arrived")
	return signal.Frame{}
}

func rosterWith(n int) func(signal.Frame) bool {
	return func(f signal.Frame) bool {
		return f.Kind == signal.FrameRoster && len(f.Participants) == n
	}
}

func TestHub_RosterSnapshots(t *testing.T) {
	srv, _ := newRelayServer(t)

	wsA := dialMember(t, srv, "room1", "a", "alice")
	readFrameUntil(t, wsA, rosterWith(1))

	wsB := dialMember(t, srv, "room1", "b", "bob")
	frame := readFrameUntil(t, wsA, rosterWith(2))
	readFrameUntil(t, wsB, rosterWith(2))

	pseudos := map[domain.ParticipantID]string{}
	for _, p := range frame.Participants {
		pseudos[p.ID] = p.Pseudo
	}
	if pseudos["a"] != "alice" || pseudos["b"] != "bob" {
		t.Errorf("roster = %v, want alice and bob", frame.Participants)
	}
}

func TestHub_RoutesAndStampsEnvelopes(t *testing.T) {
	srv, _ := newRelayServer(t)

	wsA := dialMember(t, srv, "room1", "a", "alice")
	readFrameUntil(t, wsA, rosterWith(1))
	wsB := dialMember(t, srv, "room1", "b", "bob")
	readFrameUntil(t, wsA, rosterWith(2))

	// b tries to spoof the sender and the room; the relay must overwrite both.
	out := signal.Frame{
		Kind: signal.FrameSignal,
		To:   "a",
		Envelope: &signal.Envelope{
			SenderID: "mallory",
			RoomName: "other-room",
			Type:     signal.TypeStateRequest,
			StateRequest: &signal.StateRequest{
				FromID: "b",
			},
		},
	}
	if err := wsB.WriteJSON(out); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := readFrameUntil(t, wsA, func(f signal.Frame) bool { return f.Kind == signal.FrameSignal })
	if frame.Envelope == nil {
		t.Fatal("signal frame without envelope")
	}
	if frame.Envelope.SenderID != "b" {
		t.Errorf("sender = %s, want the stamped b", frame.Envelope.SenderID)
	}
	if frame.Envelope.RoomName != "room1" {
		t.Errorf("room = %s, want the stamped room1", frame.Envelope.RoomName)
	}
	if frame.Envelope.Type != signal.TypeStateRequest {
		t.Errorf("type = %s, want state-request", frame.Envelope.Type)
	}
}

func TestHub_NoCrossRoomRouting(t *testing.T) {
	srv, _ := newRelayServer(t)

	wsA := dialMember(t, srv, "room1", "a", "alice")
	readFrameUntil(t, wsA, rosterWith(1))
	wsB := dialMember(t, srv, "room2", "b", "bob")
	readFrameUntil(t, wsB, rosterWith(1))

	out := signal.Frame{
		Kind:     signal.FrameSignal,
		To:       "a",
		Envelope: &signal.Envelope{Type: signal.TypeStateRequest, StateRequest: &signal.StateRequest{FromID: "b"}},
	}
	if err := wsB.WriteJSON(out); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := wsA.SetReadDeadline(time.Now().Add(300 * time.Millisecond)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	if _, _, err := wsA.ReadMessage(); err == nil {
		t.Error("a frame crossed room boundaries")
	}
}

func TestHub_PeerLeftOnDisconnect(t *testing.T) {
	srv, _ := newRelayServer(t)

	wsA := dialMember(t, srv, "room1", "a", "alice")
	readFrameUntil(t, wsA, rosterWith(1))
	wsB := dialMember(t, srv, "room1", "b", "bob")
	readFrameUntil(t, wsA, rosterWith(2))

	wsB.Close()

	frame := readFrameUntil(t, wsA, func(f signal.Frame) bool { return f.Kind == signal.FramePeerLeft })
	if frame.PeerID != "b" {
		t.Errorf("peer-left id = %s, want b", frame.PeerID)
	}
	readFrameUntil(t, wsA, rosterWith(1))
}

func TestHub_ReconnectSameIDKeepsNewConnection(t *testing.T) {
	srv, hub := newRelayServer(t)

	wsOld := dialMember(t, srv, "room1", "a", "alice")
	readFrameUntil(t, wsOld, rosterWith(1))

	// Same id dials again; the newer connection wins and the old socket is
	// closed underneath its pumps.
	wsNew := dialMember(t, srv, "room1", "a", "alice")
	readFrameUntil(t, wsNew, rosterWith(1))

	// The old connection's teardown must not evict the replacement.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, err := wsOld.ReadMessage(); err != nil {
			break
		}
	}
	rooms := hub.Rooms()
	if len(rooms) != 1 || rooms[0].MemberCount != 1 {
		t.Fatalf("rooms = %+v, want room1 with the reconnected member", rooms)
	}

	// And the replacement is still routable.
	wsB := dialMember(t, srv, "room1", "b", "bob")
	readFrameUntil(t, wsB, rosterWith(2))
	out := signal.Frame{
		Kind:     signal.FrameSignal,
		To:       "a",
		Envelope: &signal.Envelope{Type: signal.TypeStateRequest, StateRequest: &signal.StateRequest{FromID: "b"}},
	}
	if err := wsB.WriteJSON(out); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrameUntil(t, wsNew, func(f signal.Frame) bool { return f.Kind == signal.FrameSignal })
	if frame.Envelope == nil || frame.Envelope.SenderID != "b" {
		t.Errorf("routed frame = %+v, want a signal from b", frame)
	}
}

func TestHub_RoomsEndpoint(t *testing.T) {
	srv, _ := newRelayServer(t)

	wsA := dialMember(t, srv, "room1", "a", "alice")
	readFrameUntil(t, wsA, rosterWith(1))

	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("GET /api/rooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Rooms []RoomInfo `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rooms) != 1 || body.Rooms[0].Name != "room1" || body.Rooms[0].MemberCount != 1 {
		t.Errorf("rooms = %+v, want room1 with one member", body.Rooms)
	}
}

func TestHub_RejectsOversizedPseudo(t *testing.T) {
	srv, _ := newRelayServer(t)

	long := strings.Repeat("x", domain.MaxPseudoLen+1)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/ws/signal?room=room1&id=a&pseudo=" + long
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		ws.Close()
		t.Fatal("dial with an oversized pseudo must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected a 400 rejection, got %+v", resp)
	}
}
