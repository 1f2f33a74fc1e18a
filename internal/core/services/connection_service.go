package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jamlink/internal/core/domain"
	"jamlink/internal/core/events"
	"jamlink/internal/core/ports"

	"go.uber.org/zap"
)

// healthEntry is the in-memory health record for one directed pair.
type healthEntry struct {
	ConnectionID      domain.ConnectionID
	RoomID            domain.RoomID
	LocalPeer         domain.PeerID
	RemotePeer        domain.PeerID
	State             domain.ConnectionState
	LastUpdated       time.Time
	ReconnectAttempts int
	FallbackMode      domain.FallbackMode
}

// ConnectionServiceConfig tunes health tracking, the monitor and the reaper.
type ConnectionServiceConfig struct {
	StaleAfter           time.Duration
	MaxReconnectAttempts int
	MonitorInterval      time.Duration
	ReapInterval         time.Duration
	ReapAfter            time.Duration
}

type connectionService struct {
	connRepo  ports.ConnectionRepository
	publisher *events.Publisher
	cfg       ConnectionServiceConfig

	mu      sync.RWMutex
	entries map[domain.ConnectionID]*healthEntry

	notifyMu sync.RWMutex
	notify   ports.ReconnectNotifier

	stopOnce sync.Once
	stopCh   chan struct{}

	logger *zap.SugaredLogger
}

// NewConnectionService creates the in-memory pairwise health tracker.
func NewConnectionService(connRepo ports.ConnectionRepository, publisher *events.Publisher, cfg ConnectionServiceConfig, logger *zap.Logger) ports.ConnectionService {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 3
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 10 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 60 * time.Second
	}
	if cfg.ReapAfter <= 0 {
		cfg.ReapAfter = 5 * time.Minute
	}

	return &connectionService{
		connRepo:  connRepo,
		publisher: publisher,
		cfg:       cfg,
		entries:   make(map[domain.ConnectionID]*healthEntry),
		stopCh:    make(chan struct{}),
		logger:    logger.Sugar(),
	}
}

// SetReconnectNotifier installs the gateway hook used to tell the remote side
// of a pair that reconnection is needed.
func (s *connectionService) SetReconnectNotifier(notify ports.ReconnectNotifier) {
	s.notifyMu.Lock()
	s.notify = notify
	s.notifyMu.Unlock()
}

// Start launches the monitor and reaper loops.
func (s *connectionService) Start(ctx context.Context) {
	go s.loop(ctx, s.cfg.MonitorInterval, s.monitorOnce)
	go s.loop(ctx, s.cfg.ReapInterval, s.reapOnce)
}

// Stop terminates the background loops.
func (s *connectionService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *connectionService) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// UpdateConnectionState applies a client state report to every pair the peer
// participates in, mirrors it into the health directory, persists the
// aggregates and flushes their events.
func (s *connectionService) UpdateConnectionState(ctx context.Context, peerID domain.PeerID, state domain.ConnectionState) error {
	if !domain.ValidConnectionState(state) {
		return fmt.Errorf("unknown connection state %q", state)
	}

	conns, err := s.connRepo.FindByPeerID(ctx, peerID)
	if err != nil {
		return fmt.Errorf("failed to load connections for peer %s: %w", peerID, err)
	}

	var errs []error
	for _, conn := range conns {
		conn.UpdateConnectionState(state)

		s.mu.Lock()
		entry := s.ensureEntryLocked(conn)
		s.mirrorLocked(entry, state)
		s.mu.Unlock()

		if err := s.connRepo.Save(ctx, conn); err != nil {
			errs = append(errs, fmt.Errorf("failed to save connection %s: %w", conn.ID, err))
			continue
		}
		if err := s.publisher.PublishAll(ctx, conn.PullDomainEvents()); err != nil {
			s.logger.Warnw("failed to publish connection events", "connection_id", conn.ID, "error", err)
		}
	}
	return errors.Join(errs...)
}

// ProcessSignalBatch applies one coalesced drain group to the pair aggregate,
// lazily creating it on the first signaling message.
func (s *connectionService) ProcessSignalBatch(ctx context.Context, roomID domain.RoomID, from, to domain.PeerID, batch ports.SignalBatch) error {
	conn, err := s.ensureAggregate(ctx, roomID, from, to)
	if err != nil {
		return err
	}

	if len(batch.Offer) > 0 {
		conn.HandleOffer()
	}
	if len(batch.Answer) > 0 {
		conn.HandleAnswer()
	}
	for range batch.Candidates {
		conn.HandleIceCandidate()
	}

	s.mu.Lock()
	entry := s.ensureEntryLocked(conn)
	s.mirrorLocked(entry, conn.State)
	s.mu.Unlock()

	if err := s.connRepo.Save(ctx, conn); err != nil {
		return fmt.Errorf("failed to save connection %s: %w", conn.ID, err)
	}
	if err := s.publisher.PublishAll(ctx, conn.PullDomainEvents()); err != nil {
		s.logger.Warnw("failed to publish connection events", "connection_id", conn.ID, "error", err)
	}
	return nil
}

// SetFallbackMode flips the relay fallback flag for a pair, resolving the
// entry by either direction and hydrating from the repository when needed.
// Entering websocket mode refunds one reconnect attempt.
func (s *connectionService) SetFallbackMode(ctx context.Context, roomID domain.RoomID, local, remote domain.PeerID, mode domain.FallbackMode) error {
	s.mu.Lock()
	entry := s.lookupEitherLocked(local, remote)
	s.mu.Unlock()

	if entry == nil {
		conn, err := s.ensureAggregateEither(ctx, roomID, local, remote)
		if err != nil {
			return err
		}
		if err := s.connRepo.Save(ctx, conn); err != nil {
			return fmt.Errorf("failed to save connection %s: %w", conn.ID, err)
		}
		if err := s.publisher.PublishAll(ctx, conn.PullDomainEvents()); err != nil {
			s.logger.Warnw("failed to publish connection events", "connection_id", conn.ID, "error", err)
		}

		s.mu.Lock()
		entry = s.ensureEntryLocked(conn)
		s.mu.Unlock()
	}

	s.mu.Lock()
	if mode == domain.FallbackWebSocket && entry.FallbackMode != domain.FallbackWebSocket {
		if entry.ReconnectAttempts > 0 {
			entry.ReconnectAttempts--
		}
	}
	entry.FallbackMode = mode
	entry.LastUpdated = time.Now()
	s.mu.Unlock()

	s.logger.Infow("fallback mode set",
		"local", local,
		"remote", remote,
		"mode", mode,
	)
	return nil
}

// IsUsingFallback reports whether either direction of the pair is in
// websocket fallback.
func (s *connectionService) IsUsingFallback(local, remote domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[domain.NewConnectionID(local, remote)]; ok && e.FallbackMode == domain.FallbackWebSocket {
		return true
	}
	if e, ok := s.entries[domain.NewConnectionID(remote, local)]; ok && e.FallbackMode == domain.FallbackWebSocket {
		return true
	}
	return false
}

// FallbackConnectionCount counts pairs in websocket fallback.
func (s *connectionService) FallbackConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if e.FallbackMode == domain.FallbackWebSocket {
			count++
		}
	}
	return count
}

// RoomConnectionCount counts tracked pairs for a room.
func (s *connectionService) RoomConnectionCount(roomID domain.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if e.RoomID == roomID {
			count++
		}
	}
	return count
}

// ConnectionStats returns tracked pair counts partitioned by state.
func (s *connectionService) ConnectionStats() ports.ConnectionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ports.ConnectionStats{ByState: make(map[domain.ConnectionState]int)}
	for _, e := range s.entries {
		stats.ByState[e.State]++
		stats.Total++
	}
	return stats
}

// monitorOnce requests reconnection for stale-connected pairs and for failed
// pairs still inside the attempt budget.
func (s *connectionService) monitorOnce(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var candidates []*healthEntry
	for _, e := range s.entries {
		if e.State == domain.ConnectionConnected && now.Sub(e.LastUpdated) > s.cfg.StaleAfter {
			candidates = append(candidates, e)
		} else if e.State == domain.ConnectionFailed && e.ReconnectAttempts < s.cfg.MaxReconnectAttempts {
			candidates = append(candidates, e)
		}
	}
	s.mu.Unlock()

	for _, e := range candidates {
		s.triggerReconnection(e)
	}
}

// triggerReconnection spends one reconnect attempt and signals the gateway to
// notify the counterpart peer. Refused once the budget is exhausted.
func (s *connectionService) triggerReconnection(entry *healthEntry) {
	s.mu.Lock()
	if entry.ReconnectAttempts >= s.cfg.MaxReconnectAttempts {
		s.mu.Unlock()
		s.logger.Debugw("reconnect budget exhausted",
			"connection_id", entry.ConnectionID,
			"attempts", s.cfg.MaxReconnectAttempts,
		)
		return
	}
	entry.ReconnectAttempts++
	entry.LastUpdated = time.Now()
	roomID, local, remote := entry.RoomID, entry.LocalPeer, entry.RemotePeer
	attempts := entry.ReconnectAttempts
	s.mu.Unlock()

	s.logger.Infow("triggering reconnection",
		"connection_id", entry.ConnectionID,
		"attempt", attempts,
	)

	s.notifyMu.RLock()
	notify := s.notify
	s.notifyMu.RUnlock()
	if notify != nil {
		notify(roomID, local, remote)
	}
}

// reapOnce removes exhausted and long-idle pairs, deleting the aggregates.
func (s *connectionService) reapOnce(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var doomed []domain.ConnectionID
	for id, e := range s.entries {
		idleTooLong := now.Sub(e.LastUpdated) > s.cfg.ReapAfter && e.State != domain.ConnectionConnected
		exhausted := e.ReconnectAttempts >= s.cfg.MaxReconnectAttempts &&
			(e.State == domain.ConnectionDisconnected || e.State == domain.ConnectionFailed)
		if idleTooLong || exhausted {
			doomed = append(doomed, id)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, id := range doomed {
		if err := s.connRepo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrConnectionNotFound) {
			s.logger.Warnw("failed to delete reaped connection", "connection_id", id, "error", err)
		} else {
			s.logger.Infow("reaped stale connection", "connection_id", id)
		}
	}
}

// ensureAggregate loads the directed pair aggregate or lazily creates it.
// Direction is significant here: a drain group for (from,to) must never touch
// the (to,from) aggregate.
func (s *connectionService) ensureAggregate(ctx context.Context, roomID domain.RoomID, local, remote domain.PeerID) (*domain.PeerConnection, error) {
	id := domain.NewConnectionID(local, remote)
	conn, err := s.connRepo.FindByID(ctx, id)
	if err == nil {
		return conn, nil
	}
	if !errors.Is(err, domain.ErrConnectionNotFound) {
		return nil, fmt.Errorf("failed to load connection %s: %w", id, err)
	}
	return domain.NewPeerConnection(roomID, local, remote), nil
}

// ensureAggregateEither resolves the pair aggregate by either direction,
// creating the forward one only when neither exists in the repository. Used
// by fallback activation, which is direction-agnostic: a reverse-direction
// aggregate that outlived its health entry keeps its history.
func (s *connectionService) ensureAggregateEither(ctx context.Context, roomID domain.RoomID, local, remote domain.PeerID) (*domain.PeerConnection, error) {
	for _, id := range []domain.ConnectionID{
		domain.NewConnectionID(local, remote),
		domain.NewConnectionID(remote, local),
	} {
		conn, err := s.connRepo.FindByID(ctx, id)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, domain.ErrConnectionNotFound) {
			return nil, fmt.Errorf("failed to load connection %s: %w", id, err)
		}
	}
	return domain.NewPeerConnection(roomID, local, remote), nil
}

// ensureEntryLocked hydrates the health entry for an aggregate. Caller holds
// s.mu.
func (s *connectionService) ensureEntryLocked(conn *domain.PeerConnection) *healthEntry {
	if entry, ok := s.entries[conn.ID]; ok {
		return entry
	}
	entry := &healthEntry{
		ConnectionID: conn.ID,
		RoomID:       conn.RoomID,
		LocalPeer:    conn.LocalPeer,
		RemotePeer:   conn.RemotePeer,
		State:        conn.State,
		LastUpdated:  time.Now(),
		FallbackMode: domain.FallbackNone,
	}
	s.entries[conn.ID] = entry
	return entry
}

// lookupEitherLocked resolves a pair entry by either direction. Caller holds
// s.mu.
func (s *connectionService) lookupEitherLocked(local, remote domain.PeerID) *healthEntry {
	if e, ok := s.entries[domain.NewConnectionID(local, remote)]; ok {
		return e
	}
	if e, ok := s.entries[domain.NewConnectionID(remote, local)]; ok {
		return e
	}
	return nil
}

// mirrorLocked applies the reconnect accounting rules to a health entry.
// Caller holds s.mu.
func (s *connectionService) mirrorLocked(entry *healthEntry, newState domain.ConnectionState) {
	if entry.State != newState {
		if entry.State == domain.ConnectionConnected &&
			(newState == domain.ConnectionDisconnected || newState == domain.ConnectionFailed) {
			entry.ReconnectAttempts++
		}
		if (entry.State == domain.ConnectionDisconnected || entry.State == domain.ConnectionFailed) &&
			newState == domain.ConnectionConnected {
			entry.ReconnectAttempts = 0
		}
		entry.State = newState
	}
	entry.LastUpdated = time.Now()
}
