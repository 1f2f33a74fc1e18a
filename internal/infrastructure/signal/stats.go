package signal

import (
	"sync"
	"time"

	"jamlink/internal/core/domain"

	"go.uber.org/zap"
)

// roomStats is the gateway-local transient view of one room.
type roomStats struct {
	MemberCount     int
	ConnectionCount int
	LastUpdated     time.Time
	Active          bool
}

// roomStatsTable tracks per-room counts used for admission control. Mutated
// only by the gateway.
type roomStatsTable struct {
	mu      sync.RWMutex
	entries map[domain.RoomID]*roomStats
	logger  *zap.SugaredLogger
}

func newRoomStatsTable(logger *zap.SugaredLogger) *roomStatsTable {
	return &roomStatsTable{
		entries: make(map[domain.RoomID]*roomStats),
		logger:  logger,
	}
}

// Refresh records current member and pair counts for a room. Pair counts far
// off the expected n*(n-1)/2 are logged but never rejected.
func (t *roomStatsTable) Refresh(roomID domain.RoomID, members, connections int) {
	t.mu.Lock()
	entry, ok := t.entries[roomID]
	if !ok {
		entry = &roomStats{}
		t.entries[roomID] = entry
	}
	entry.MemberCount = members
	entry.ConnectionCount = connections
	entry.LastUpdated = time.Now()
	entry.Active = true
	t.mu.Unlock()

	expected := members * (members - 1) / 2
	if expected > 0 && connections > 0 {
		ratio := float64(connections) / float64(expected)
		if ratio < 0.8 || ratio > 1.5 {
			t.logger.Warnw("room connection count off expected pair count",
				"room_id", roomID,
				"members", members,
				"connections", connections,
				"expected", expected,
			)
		}
	}
}

// ConnectionCount reports the last observed pair count for a room.
func (t *roomStatsTable) ConnectionCount(roomID domain.RoomID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if entry, ok := t.entries[roomID]; ok {
		return entry.ConnectionCount
	}
	return 0
}

// Len reports the number of tracked rooms.
func (t *roomStatsTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// MarkInactive flags an entry without removing it.
func (t *roomStatsTable) MarkInactive(roomID domain.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[roomID]; ok {
		entry.Active = false
	}
}

// IdleRooms returns rooms whose entry has not been refreshed within maxIdle.
func (t *roomStatsTable) IdleRooms(maxIdle time.Duration) []domain.RoomID {
	now := time.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	var idle []domain.RoomID
	for roomID, entry := range t.entries {
		if now.Sub(entry.LastUpdated) > maxIdle {
			idle = append(idle, roomID)
		}
	}
	return idle
}

// Remove drops an entry.
func (t *roomStatsTable) Remove(roomID domain.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, roomID)
}
