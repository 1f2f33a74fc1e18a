package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"jamlink/internal/core/domain"
	"jamlink/internal/core/events"
	"jamlink/internal/core/ports"
	"jamlink/internal/core/services"
	"jamlink/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gatewayFixture struct {
	server      *httptest.Server
	ws          *WebSocketServer
	roomService ports.RoomService
	connService ports.ConnectionService
	connRepo    ports.ConnectionRepository
	queue       *services.MessageQueue
	publisher   *events.Publisher
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	logger := zap.NewNop()
	publisher := events.NewPublisher(logger)
	roomRepo := memory.NewMemoryRoomRepository()
	connRepo := memory.NewMemoryConnectionRepository()

	roomService := services.NewRoomService(roomRepo, publisher, logger)
	connService := services.NewConnectionService(connRepo, publisher, services.ConnectionServiceConfig{}, logger)

	queue := services.NewMessageQueue(services.MessageQueueConfig{}, connService.ProcessSignalBatch, nil, logger)

	ws := NewWebSocketServer(roomService, connService, queue, Config{}, nil, logger)
	server := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	t.Cleanup(server.Close)

	return &gatewayFixture{
		server:      server,
		ws:          ws,
		roomService: roomService,
		connService: connService,
		connRepo:    connRepo,
		queue:       queue,
		publisher:   publisher,
	}
}

func (f *gatewayFixture) dial(t *testing.T, roomID domain.RoomID, peerID domain.PeerID) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?roomId=" + string(roomID) + "&peerId=" + string(peerID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *gatewayFixture) createRoom(t *testing.T, owner domain.PeerID, maxPlayers int) domain.RoomID {
	t.Helper()

	room, err := f.roomService.CreateRoom(context.Background(), owner, domain.RoomRules{
		MaxPlayers:      maxPlayers,
		AllowRelay:      true,
		LatencyTargetMs: 100,
		OpusBitrate:     64000,
	})
	require.NoError(t, err)
	return room.ID
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func readUntilType(t *testing.T, conn *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame["type"] == msgType {
			return frame
		}
	}
	t.Fatalf("did not receive frame of type %q", msgType)
	return nil
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func TestJoin_RoomStateAndBroadcast(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "u1", 4)

	// A non-owner joins over the socket and becomes the second member.
	conn := f.dial(t, roomID, "u2")
	sendFrame(t, conn, map[string]interface{}{"type": "join"})

	joined := readUntilType(t, conn, "player-joined")
	assert.Equal(t, "u2", joined["peerId"])
	assert.Equal(t, string(roomID), joined["roomId"])
	assert.Equal(t, float64(2), joined["totalPlayers"])
	assert.Equal(t, false, joined["isRoomOwner"])

	state := readUntilType(t, conn, "room-state")
	assert.Equal(t, string(roomID), state["roomId"])
	assert.Equal(t, "u1", state["ownerId"])
	assert.ElementsMatch(t, []interface{}{"u1", "u2"}, state["players"].([]interface{}))

	rules := state["rules"].(map[string]interface{})
	assert.Equal(t, float64(4), rules["maxPlayers"])
	assert.Equal(t, true, rules["allowRelay"])
}

func TestJoin_OwnerSocketJoin(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "u1", 4)

	// The owner became a member at creation; the socket join re-admits.
	conn := f.dial(t, roomID, "u1")
	sendFrame(t, conn, map[string]interface{}{"type": "join"})

	joined := readUntilType(t, conn, "player-joined")
	assert.Equal(t, "u1", joined["peerId"])
	assert.Equal(t, float64(1), joined["totalPlayers"])
	assert.Equal(t, true, joined["isRoomOwner"])

	state := readUntilType(t, conn, "room-state")
	assert.Equal(t, "u1", state["ownerId"])
	assert.Equal(t, []interface{}{"u1"}, state["players"].([]interface{}))
}

func TestJoin_MaxConnectionsAdmission(t *testing.T) {
	logger := zap.NewNop()
	publisher := events.NewPublisher(logger)
	roomRepo := memory.NewMemoryRoomRepository()
	connRepo := memory.NewMemoryConnectionRepository()
	roomService := services.NewRoomService(roomRepo, publisher, logger)
	connService := services.NewConnectionService(connRepo, publisher, services.ConnectionServiceConfig{}, logger)
	queue := services.NewMessageQueue(services.MessageQueueConfig{}, connService.ProcessSignalBatch, nil, logger)

	ws := NewWebSocketServer(roomService, connService, queue, Config{MaxConnectionsPerRoom: 1}, nil, logger)
	server := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	defer server.Close()

	room, err := roomService.CreateRoom(context.Background(), "a", domain.RoomRules{MaxPlayers: 8})
	require.NoError(t, err)

	// One tracked pair exhausts the per-room connection budget.
	require.NoError(t, connService.ProcessSignalBatch(context.Background(), room.ID, "a", "b", ports.SignalBatch{
		Offer: json.RawMessage(`{"sdp":"x"}`),
	}))

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?roomId=" + string(room.ID) + "&peerId=c"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "join"}))
	errFrame := readUntilType(t, conn, "error")
	assert.Equal(t, "ERR_MAX_CONNECTIONS", errFrame["code"])
}

func TestJoin_FullRoom(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "a", 2)

	connB := f.dial(t, roomID, "b")
	sendFrame(t, connB, map[string]interface{}{"type": "join"})
	readUntilType(t, connB, "room-state")

	connC := f.dial(t, roomID, "c")
	sendFrame(t, connC, map[string]interface{}{"type": "join"})

	errFrame := readUntilType(t, connC, "error")
	assert.Contains(t, errFrame["message"], "full")

	room, err := f.roomService.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.PeerID{"a", "b"}, room.Members)
}

func TestOfferAnswerIceRoundTrip(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "A", 4)

	connA := f.dial(t, roomID, "A")
	connB := f.dial(t, roomID, "B")
	sendFrame(t, connB, map[string]interface{}{"type": "join"})
	readUntilType(t, connB, "room-state")

	sendFrame(t, connA, map[string]interface{}{
		"type": "offer", "from": "A", "to": "B",
		"offer": map[string]interface{}{"sdp": "O"},
	})
	offer := readUntilType(t, connB, "offer")
	assert.Equal(t, "A", offer["from"])
	assert.Equal(t, map[string]interface{}{"sdp": "O"}, offer["offer"])

	sendFrame(t, connB, map[string]interface{}{
		"type": "answer", "from": "B", "to": "A",
		"answer": map[string]interface{}{"sdp": "X"},
	})
	answer := readUntilType(t, connA, "answer")
	assert.Equal(t, "B", answer["from"])
	assert.Equal(t, map[string]interface{}{"sdp": "X"}, answer["answer"])

	sendFrame(t, connA, map[string]interface{}{
		"type": "ice-candidate", "from": "A", "to": "B",
		"candidate": map[string]interface{}{"candidate": "c1"},
	})
	candidate := readUntilType(t, connB, "ice-candidate")
	assert.Equal(t, "A", candidate["from"])

	// Drain the queue so aggregates catch up.
	time.Sleep(50 * time.Millisecond)
	f.queue.DrainOnce(context.Background())

	ab, err := f.connRepo.FindByID(context.Background(), domain.NewConnectionID("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionConnecting, ab.State)
	assert.GreaterOrEqual(t, ab.ICECandidates, 1)

	ba, err := f.connRepo.FindByID(context.Background(), domain.NewConnectionID("B", "A"))
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionConnected, ba.State)
}

func TestDisconnect_LastSocketLeavesRoom(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "A", 4)

	closedCh := make(chan string, 1)
	f.publisher.Register(domain.EventRoomClosed, func(ctx context.Context, e domain.Event) error {
		closedCh <- string(e.Fields["roomId"].(domain.RoomID))
		return nil
	})

	connA := f.dial(t, roomID, "A")
	sendFrame(t, connA, map[string]interface{}{"type": "join"})
	// A was already the sole member from creation; the socket is re-admitted.
	state := readUntilType(t, connA, "room-state")
	assert.Equal(t, []interface{}{"A"}, state["players"].([]interface{}))

	connA.Close()

	assert.Eventually(t, func() bool {
		_, err := f.roomService.GetRoom(context.Background(), roomID)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case closed := <-closedCh:
		assert.Equal(t, string(roomID), closed)
	case <-time.After(2 * time.Second):
		t.Fatal("room-closed event was not published")
	}
}

func TestMultiSocketPeer_LeaveOnlyAfterLastSocket(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "A", 4)

	conn1 := f.dial(t, roomID, "A")
	conn2 := f.dial(t, roomID, "A")
	_ = conn1

	conn2.Close()
	time.Sleep(100 * time.Millisecond)

	room, err := f.roomService.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.True(t, room.HasPlayer("A"))
}

func TestFallbackGate(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "A", 4)

	connA := f.dial(t, roomID, "A")
	connB := f.dial(t, roomID, "B")
	sendFrame(t, connB, map[string]interface{}{"type": "join"})
	readUntilType(t, connB, "room-state")

	// Relay before activation is rejected and B receives nothing.
	sendFrame(t, connA, map[string]interface{}{
		"type": "relay-data", "from": "A", "to": "B",
		"payload": map[string]interface{}{"x": float64(1)},
	})
	errFrame := readUntilType(t, connA, "error")
	assert.Equal(t, "ERR_FALLBACK_NOT_ENABLED", errFrame["code"])

	// Activation notifies B and acks A. B's next frame is the fallback
	// notification, proving the rejected relay delivered nothing.
	sendFrame(t, connA, map[string]interface{}{
		"type": "webrtc-fallback-activate", "from": "A", "to": "B",
	})
	needed := readFrame(t, connB)
	assert.Equal(t, "webrtc-fallback-needed", needed["type"])
	assert.Equal(t, "A", needed["from"])
	assert.Equal(t, string(roomID), needed["roomId"])

	activated := readUntilType(t, connA, "webrtc-fallback-activated")
	assert.Equal(t, "B", activated["to"])
	assert.Equal(t, true, activated["success"])

	// Relay now forwards the opaque payload.
	sendFrame(t, connA, map[string]interface{}{
		"type": "relay-data", "from": "A", "to": "B",
		"payload": map[string]interface{}{"x": float64(1)},
	})
	relayed := readUntilType(t, connB, "relay-data")
	assert.Equal(t, "A", relayed["from"])
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, relayed["payload"])
}

func TestFallbackActivate_UnknownPeer(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "A", 4)

	connA := f.dial(t, roomID, "A")
	sendFrame(t, connA, map[string]interface{}{
		"type": "webrtc-fallback-activate", "from": "A", "to": "ghost",
	})
	errFrame := readUntilType(t, connA, "error")
	assert.Equal(t, "ERR_PEER_NOT_FOUND", errFrame["code"])
}

func TestReconnectRequest(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "A", 4)

	connA := f.dial(t, roomID, "A")
	connB := f.dial(t, roomID, "B")
	sendFrame(t, connB, map[string]interface{}{"type": "join"})
	readUntilType(t, connB, "room-state")

	sendFrame(t, connA, map[string]interface{}{
		"type": "reconnect-request", "from": "A", "to": "B",
	})
	needed := readUntilType(t, connB, "reconnect-needed")
	assert.Equal(t, "A", needed["from"])

	sendFrame(t, connA, map[string]interface{}{
		"type": "reconnect-request", "from": "A", "to": "ghost",
	})
	errFrame := readUntilType(t, connA, "error")
	assert.Equal(t, "ERR_PEER_NOT_FOUND", errFrame["code"])
}

func TestConnectionState_NotifiesCounterpartAndSuggestsFallback(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "A", 4)

	connA := f.dial(t, roomID, "A")
	connB := f.dial(t, roomID, "B")
	sendFrame(t, connB, map[string]interface{}{"type": "join"})
	readUntilType(t, connB, "room-state")

	sendFrame(t, connA, map[string]interface{}{
		"type": "connection-state", "peerId": "A", "state": "failed",
	})

	state := readUntilType(t, connB, "peer-connection-state")
	assert.Equal(t, "A", state["peerId"])
	assert.Equal(t, "failed", state["state"])

	suggested := readUntilType(t, connB, "webrtc-fallback-suggested")
	assert.Equal(t, "A", suggested["from"])
	assert.Equal(t, string(roomID), suggested["roomId"])

	readUntilType(t, connA, "webrtc-fallback-suggested")
}

func TestHandshake_RequiresRoomAndPeer(t *testing.T) {
	f := newGatewayFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?roomId=r1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])

	// Server closes the socket after the error frame.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var next map[string]interface{}
	assert.Error(t, conn.ReadJSON(&next))
}

func TestHealthCheck(t *testing.T) {
	f := newGatewayFixture(t)
	roomID := f.createRoom(t, "A", 4)
	f.dial(t, roomID, "A")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	f.ws.HealthCheck(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["sockets"])
}
