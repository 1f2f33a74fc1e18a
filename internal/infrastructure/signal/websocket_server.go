package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"jamlink/internal/core/domain"
	"jamlink/internal/core/ports"
	"jamlink/internal/core/services"
	"jamlink/internal/infrastructure/monitoring"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config tunes the gateway.
type Config struct {
	MaxConnectionsPerRoom int
	PingInterval          time.Duration
	PongTimeout           time.Duration
	WriteTimeout          time.Duration
	StatsMonitorInterval  time.Duration
	StatsIdleReap         time.Duration

	RateLimitEnabled  bool
	MessagesPerSecond float64
	MessageBurst      int
}

// wsMessage is the flat ingress envelope. Offer/Answer/Candidate/Payload are
// opaque to the broker.
type wsMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	PeerID    string          `json:"peerId,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	State     string          `json:"state,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// client is one socket registered under a peer identity. A peer may hold
// several concurrent sockets.
type client struct {
	conn    *websocket.Conn
	roomID  domain.RoomID
	peerID  domain.PeerID
	writeMu sync.Mutex
	limiter *rate.Limiter
}

func (c *client) writeJSON(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

// WebSocketServer is the signaling gateway: socket ingress, per-peer fan-out,
// queue producer and relay dispatcher.
type WebSocketServer struct {
	roomService ports.RoomService
	connService ports.ConnectionService
	queue       *services.MessageQueue

	mu    sync.RWMutex
	peers map[domain.PeerID]map[*client]struct{}
	rooms map[domain.RoomID]map[*client]struct{}

	stats *roomStatsTable
	cfg   Config

	metrics *monitoring.PrometheusCollector

	stopOnce sync.Once
	stopCh   chan struct{}

	logger *zap.SugaredLogger
}

// NewWebSocketServer wires the gateway and installs itself as the connection
// service's reconnect notifier.
func NewWebSocketServer(
	roomService ports.RoomService,
	connService ports.ConnectionService,
	queue *services.MessageQueue,
	cfg Config,
	metrics *monitoring.PrometheusCollector,
	logger *zap.Logger,
) *WebSocketServer {
	if cfg.MaxConnectionsPerRoom <= 0 {
		cfg.MaxConnectionsPerRoom = 20
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.StatsMonitorInterval <= 0 {
		cfg.StatsMonitorInterval = 30 * time.Second
	}
	if cfg.StatsIdleReap <= 0 {
		cfg.StatsIdleReap = 10 * time.Minute
	}

	sugared := logger.Sugar()
	s := &WebSocketServer{
		roomService: roomService,
		connService: connService,
		queue:       queue,
		peers:       make(map[domain.PeerID]map[*client]struct{}),
		rooms:       make(map[domain.RoomID]map[*client]struct{}),
		stats:       newRoomStatsTable(sugared),
		cfg:         cfg,
		metrics:     metrics,
		stopCh:      make(chan struct{}),
		logger:      sugared,
	}

	connService.SetReconnectNotifier(s.notifyReconnectNeeded)
	return s
}

// Start launches the room stats monitor.
func (s *WebSocketServer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.StatsMonitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.statsMonitorOnce(ctx)
			}
		}
	}()
}

// Stop terminates the stats monitor.
func (s *WebSocketServer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	roomID := domain.RoomID(r.URL.Query().Get("roomId"))
	peerID := domain.PeerID(r.URL.Query().Get("peerId"))
	if roomID == "" || peerID == "" {
		s.logger.Warn("missing roomId or peerId in handshake")
		conn.WriteJSON(map[string]interface{}{
			"type":    "error",
			"message": "roomId and peerId query parameters are required",
		})
		return
	}

	var limiter *rate.Limiter
	if s.cfg.RateLimitEnabled {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst)
	}
	c := &client{conn: conn, roomID: roomID, peerID: peerID, limiter: limiter}

	s.addClient(c)
	s.logger.Infow("peer socket connected", "room_id", roomID, "peer_id", peerID)

	// Set read deadline refreshed by pongs
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan wsMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(context.Background(), c, msg); err != nil {
				s.logger.Infow("error handling message",
					"peer_id", peerID,
					"type", msg.Type,
					"error", err,
				)
				s.sendError(c, "", err.Error())
			}

		case <-pingTicker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "peer_id", peerID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "peer_id", peerID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	lastSocket := s.removeClient(c)
	if lastSocket {
		s.handlePeerGone(context.Background(), roomID, peerID)
	}
	s.logger.Infow("peer socket disconnected", "peer_id", peerID, "last_socket", lastSocket)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, c *client, msg wsMessage) error {
	if msg.Type == "" {
		return errMessageTypeRequired
	}
	if msg.PeerID != "" && domain.PeerID(msg.PeerID) != c.peerID {
		return errPeerIDMismatch
	}

	if c.limiter != nil && !c.limiter.Allow() {
		s.logger.Warnw("message rate limit exceeded, dropping frame",
			"peer_id", c.peerID,
			"type", msg.Type,
		)
		return nil
	}

	switch msg.Type {
	case "join":
		return s.handleJoin(ctx, c)
	case "leave":
		return s.handleLeave(ctx, c)
	case "offer":
		return s.handleSignal(ctx, c, services.MessageOffer, msg)
	case "answer":
		return s.handleSignal(ctx, c, services.MessageAnswer, msg)
	case "ice-candidate":
		return s.handleSignal(ctx, c, services.MessageICECandidate, msg)
	case "connection-state":
		return s.handleConnectionState(ctx, c, msg)
	case "reconnect-request":
		return s.handleReconnectRequest(ctx, c, msg)
	case "webrtc-fallback-activate":
		return s.handleFallbackActivate(ctx, c, msg)
	case "relay-data":
		return s.handleRelayData(ctx, c, msg)
	default:
		return errUnknownMessageType
	}
}

func (s *WebSocketServer) handleJoin(ctx context.Context, c *client) error {
	s.refreshRoomStats(ctx, c.roomID)

	if s.stats.ConnectionCount(c.roomID) >= s.cfg.MaxConnectionsPerRoom {
		s.sendError(c, "ERR_MAX_CONNECTIONS", "room connection limit reached")
		return nil
	}

	room, err := s.roomService.JoinRoom(ctx, c.roomID, c.peerID)
	if errors.Is(err, domain.ErrAlreadyJoined) {
		// A member attaching a fresh socket is re-admitted, not rejected.
		room, err = s.roomService.GetRoom(ctx, c.roomID)
	}
	if err != nil {
		s.sendError(c, "", err.Error())
		return nil
	}

	s.broadcastToRoom(c.roomID, map[string]interface{}{
		"type":         "player-joined",
		"peerId":       c.peerID,
		"roomId":       c.roomID,
		"totalPlayers": len(room.Members),
		"isRoomOwner":  room.IsOwner(c.peerID),
	})

	if err := c.writeJSON(map[string]interface{}{
		"type":    "room-state",
		"roomId":  room.ID,
		"ownerId": room.OwnerID,
		"players": room.Members,
		"rules":   rulesJSON(room.Rules),
	}, s.cfg.WriteTimeout); err != nil {
		s.logger.Infow("failed to send room state", "peer_id", c.peerID, "error", err)
	}

	s.refreshRoomStats(ctx, c.roomID)
	return nil
}

func (s *WebSocketServer) handleLeave(ctx context.Context, c *client) error {
	if _, err := s.roomService.LeaveRoom(ctx, c.roomID, c.peerID); err != nil {
		s.sendError(c, "", err.Error())
		return nil
	}

	s.broadcastToRoom(c.roomID, map[string]interface{}{
		"type":   "player-left",
		"peerId": c.peerID,
		"roomId": c.roomID,
	})
	return nil
}

// handleSignal is the low-latency path: the frame is mirrored synchronously to
// the recipient's sockets and enqueued for the drain to update aggregates.
func (s *WebSocketServer) handleSignal(ctx context.Context, c *client, msgType services.MessageType, msg wsMessage) error {
	to := domain.PeerID(msg.To)
	if to == "" {
		return errTargetPeerRequired
	}
	from := c.peerID
	if msg.From != "" {
		from = domain.PeerID(msg.From)
	}

	var payload json.RawMessage
	var frame map[string]interface{}
	switch msgType {
	case services.MessageOffer:
		payload = firstPayload(msg.Offer, msg.Payload)
		frame = map[string]interface{}{"type": "offer", "from": from, "offer": payload}
	case services.MessageAnswer:
		payload = firstPayload(msg.Answer, msg.Payload)
		frame = map[string]interface{}{"type": "answer", "from": from, "answer": payload}
	case services.MessageICECandidate:
		payload = firstPayload(msg.Candidate, msg.Payload)
		frame = map[string]interface{}{"type": "ice-candidate", "from": from, "candidate": payload}
	}

	if delivered := s.sendToPeer(to, frame); delivered == 0 {
		s.logger.Debugw("signal recipient has no open sockets",
			"room_id", c.roomID,
			"from", from,
			"to", to,
			"type", msgType,
		)
	}

	s.queue.Enqueue(services.QueuedMessage{
		Type:    msgType,
		RoomID:  c.roomID,
		From:    from,
		To:      to,
		Payload: payload,
	})
	return nil
}

func (s *WebSocketServer) handleConnectionState(ctx context.Context, c *client, msg wsMessage) error {
	state := domain.ConnectionState(msg.State)
	if !domain.ValidConnectionState(state) {
		return errUnknownConnectionState
	}

	if err := s.connService.UpdateConnectionState(ctx, c.peerID, state); err != nil {
		s.logger.Warnw("failed to update connection state",
			"peer_id", c.peerID,
			"state", state,
			"error", err,
		)
	}

	room, err := s.roomService.GetRoom(ctx, c.roomID)
	if err != nil {
		return nil
	}

	for _, member := range room.Members {
		if member == c.peerID {
			continue
		}
		s.sendToPeer(member, map[string]interface{}{
			"type":   "peer-connection-state",
			"peerId": c.peerID,
			"state":  state,
		})

		if state == domain.ConnectionFailed && !s.connService.IsUsingFallback(c.peerID, member) {
			suggestion := map[string]interface{}{
				"type":   "webrtc-fallback-suggested",
				"from":   c.peerID,
				"roomId": c.roomID,
				"reason": "peer connection failed",
			}
			s.sendToPeer(member, suggestion)
			s.sendToPeer(c.peerID, suggestion)
		}
	}
	return nil
}

func (s *WebSocketServer) handleReconnectRequest(ctx context.Context, c *client, msg wsMessage) error {
	to := domain.PeerID(msg.To)
	room, err := s.roomService.GetRoom(ctx, c.roomID)
	if err != nil || !room.HasPlayer(to) {
		s.sendError(c, "ERR_PEER_NOT_FOUND", "target peer is not a member of the room")
		return nil
	}

	from := c.peerID
	if msg.From != "" {
		from = domain.PeerID(msg.From)
	}

	s.sendToPeer(to, map[string]interface{}{
		"type": "reconnect-needed",
		"from": from,
	})
	return nil
}

func (s *WebSocketServer) handleFallbackActivate(ctx context.Context, c *client, msg wsMessage) error {
	to := domain.PeerID(msg.To)
	room, err := s.roomService.GetRoom(ctx, c.roomID)
	if err != nil || !room.HasPlayer(to) {
		s.sendError(c, "ERR_PEER_NOT_FOUND", "target peer is not a member of the room")
		return nil
	}

	from := c.peerID
	if msg.From != "" {
		from = domain.PeerID(msg.From)
	}

	if err := s.connService.SetFallbackMode(ctx, c.roomID, from, to, domain.FallbackWebSocket); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SetFallbackPairs(s.connService.FallbackConnectionCount())
	}

	s.sendToPeer(to, map[string]interface{}{
		"type":   "webrtc-fallback-needed",
		"from":   from,
		"roomId": c.roomID,
	})

	return c.writeJSON(map[string]interface{}{
		"type":    "webrtc-fallback-activated",
		"to":      to,
		"success": true,
	}, s.cfg.WriteTimeout)
}

func (s *WebSocketServer) handleRelayData(ctx context.Context, c *client, msg wsMessage) error {
	to := domain.PeerID(msg.To)
	if to == "" {
		return errTargetPeerRequired
	}
	from := c.peerID
	if msg.From != "" {
		from = domain.PeerID(msg.From)
	}

	if !s.connService.IsUsingFallback(from, to) {
		s.sendError(c, "ERR_FALLBACK_NOT_ENABLED", "websocket fallback is not enabled for this pair")
		return nil
	}

	s.sendToPeer(to, map[string]interface{}{
		"type":    "relay-data",
		"from":    from,
		"payload": msg.Payload,
	})
	if s.metrics != nil {
		s.metrics.RecordRelayFrame()
	}
	return nil
}

// handlePeerGone runs when a peer's last socket drops: report disconnected,
// leave the room and tell the remaining members.
func (s *WebSocketServer) handlePeerGone(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) {
	if err := s.connService.UpdateConnectionState(ctx, peerID, domain.ConnectionDisconnected); err != nil {
		s.logger.Warnw("failed to mark peer disconnected", "peer_id", peerID, "error", err)
	}

	if _, err := s.roomService.LeaveRoom(ctx, roomID, peerID); err != nil {
		s.logger.Debugw("leave on disconnect skipped", "peer_id", peerID, "error", err)
		return
	}

	s.broadcastToRoom(roomID, map[string]interface{}{
		"type":   "player-left",
		"peerId": peerID,
		"roomId": roomID,
	})
}

// notifyReconnectNeeded is the connection service's out-of-band hook: the
// remote side of the pair is told to re-offer.
func (s *WebSocketServer) notifyReconnectNeeded(roomID domain.RoomID, local, remote domain.PeerID) {
	s.sendToPeer(remote, map[string]interface{}{
		"type": "reconnect-needed",
		"from": local,
	})
	if s.metrics != nil {
		s.metrics.RecordReconnectRequested()
	}
}

func (s *WebSocketServer) refreshRoomStats(ctx context.Context, roomID domain.RoomID) {
	members := 0
	if room, err := s.roomService.GetRoom(ctx, roomID); err == nil {
		members = len(room.Members)
	}
	s.stats.Refresh(roomID, members, s.connService.RoomConnectionCount(roomID))
	if s.metrics != nil {
		s.metrics.SetRoomsTracked(s.stats.Len())
	}
}

// statsMonitorOnce reaps idle stats entries and marks entries for dead rooms
// inactive.
func (s *WebSocketServer) statsMonitorOnce(ctx context.Context) {
	for _, roomID := range s.stats.IdleRooms(s.cfg.StatsIdleReap) {
		s.stats.Remove(roomID)
		s.logger.Infow("reaped idle room stats", "room_id", roomID)
	}

	for _, roomID := range s.stats.IdleRooms(5 * time.Minute) {
		room, err := s.roomService.GetRoom(ctx, roomID)
		if err != nil || !room.Active || len(room.Members) == 0 {
			s.stats.MarkInactive(roomID)
		}
	}

	if s.metrics != nil {
		s.metrics.SetRoomsTracked(s.stats.Len())
	}
}

func (s *WebSocketServer) addClient(c *client) {
	s.mu.Lock()
	set, ok := s.peers[c.peerID]
	if !ok {
		set = make(map[*client]struct{})
		s.peers[c.peerID] = set
	}
	firstSocket := len(set) == 0
	set[c] = struct{}{}

	group, ok := s.rooms[c.roomID]
	if !ok {
		group = make(map[*client]struct{})
		s.rooms[c.roomID] = group
	}
	group[c] = struct{}{}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SocketOpened()
		if firstSocket {
			s.metrics.PeerOnline()
		}
	}
}

// removeClient unregisters a socket and reports whether it was the peer's
// last one.
func (s *WebSocketServer) removeClient(c *client) bool {
	s.mu.Lock()
	lastSocket := false
	if set, ok := s.peers[c.peerID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.peers, c.peerID)
			lastSocket = true
		}
	}
	if group, ok := s.rooms[c.roomID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(s.rooms, c.roomID)
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SocketClosed()
		if lastSocket {
			s.metrics.PeerOffline()
		}
	}
	return lastSocket
}

// sendToPeer writes to every socket the peer holds and reports how many
// received the frame.
func (s *WebSocketServer) sendToPeer(peerID domain.PeerID, v interface{}) int {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.peers[peerID]))
	for c := range s.peers[peerID] {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if err := c.writeJSON(v, s.cfg.WriteTimeout); err != nil {
			s.logger.Debugw("failed to write to peer socket", "peer_id", peerID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (s *WebSocketServer) broadcastToRoom(roomID domain.RoomID, v interface{}) {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.rooms[roomID]))
	for c := range s.rooms[roomID] {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(v, s.cfg.WriteTimeout); err != nil {
			s.logger.Debugw("failed to broadcast to socket",
				"room_id", roomID,
				"peer_id", c.peerID,
				"error", err,
			)
		}
	}
}

func (s *WebSocketServer) sendError(c *client, code, message string) {
	frame := map[string]interface{}{
		"type":    "error",
		"message": message,
	}
	if code != "" {
		frame["code"] = code
	}
	if err := c.writeJSON(frame, s.cfg.WriteTimeout); err != nil {
		s.logger.Debugw("failed to send error frame", "peer_id", c.peerID, "error", err)
	}
}

// ConnectedPeers returns peers with at least one open socket.
func (s *WebSocketServer) ConnectedPeers() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(s.peers))
	for peerID := range s.peers {
		peers = append(peers, peerID)
	}
	return peers
}

// IsPeerConnected reports whether the peer holds any open socket.
func (s *WebSocketServer) IsPeerConnected(peerID domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.peers[peerID]
	return exists
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	socketCount := 0
	for _, set := range s.peers {
		socketCount += len(set)
	}
	peerCount := len(s.peers)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().Unix(),
		"sockets":         socketCount,
		"peers":           peerCount,
		"pending_signals": s.queue.PendingTotal(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func rulesJSON(rules domain.RoomRules) map[string]interface{} {
	return map[string]interface{}{
		"maxPlayers":      rules.MaxPlayers,
		"allowRelay":      rules.AllowRelay,
		"latencyTargetMs": rules.LatencyTargetMs,
		"opusBitrate":     rules.OpusBitrate,
	}
}

func firstPayload(payloads ...json.RawMessage) json.RawMessage {
	for _, p := range payloads {
		if len(p) > 0 {
			return p
		}
	}
	return nil
}
