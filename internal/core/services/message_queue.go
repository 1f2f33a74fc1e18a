package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"jamlink/internal/core/domain"
	"jamlink/internal/core/ports"

	"go.uber.org/zap"
)

// MessageType classifies a queued signaling message.
type MessageType string

const (
	MessageOffer        MessageType = "offer"
	MessageAnswer       MessageType = "answer"
	MessageICECandidate MessageType = "ice-candidate"
)

// Priority mapping is fixed; lower drains earlier.
func messagePriority(t MessageType) int {
	switch t {
	case MessageOffer:
		return 1
	case MessageAnswer:
		return 2
	default:
		return 3
	}
}

// QueuedMessage is one in-queue signaling message. Payload is opaque.
type QueuedMessage struct {
	Type       MessageType
	RoomID     domain.RoomID
	From       domain.PeerID
	To         domain.PeerID
	Payload    json.RawMessage
	Priority   int
	EnqueuedAt time.Time
}

// DrainFunc receives one coalesced pair group per drain tick. Injected at
// construction so the queue never references the signal service directly.
type DrainFunc func(ctx context.Context, roomID domain.RoomID, from, to domain.PeerID, batch ports.SignalBatch) error

// QueueMetrics is the optional instrumentation hook for the queue.
type QueueMetrics interface {
	RecordEnqueued(msgType string)
	RecordDroppedCandidates(count int)
	RecordQueueDepth(roomID string, depth int)
}

// MessageQueueConfig tunes the queue and its drain loop.
type MessageQueueConfig struct {
	DrainInterval   time.Duration
	BatchSize       int
	MaxPending      int
	CandidateMaxAge time.Duration
}

// MessageQueue is the per-room prioritized signaling queue. Enqueue never
// blocks the producer; above MaxPending pending messages per room, aged
// candidates are the loss class.
type MessageQueue struct {
	mu    sync.Mutex
	rooms map[domain.RoomID][]QueuedMessage

	drain   DrainFunc
	cfg     MessageQueueConfig
	metrics QueueMetrics

	stopOnce sync.Once
	stopCh   chan struct{}

	logger *zap.SugaredLogger
}

// NewMessageQueue creates a queue draining into the given callback.
func NewMessageQueue(cfg MessageQueueConfig, drain DrainFunc, metrics QueueMetrics, logger *zap.Logger) *MessageQueue {
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 100 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 1000
	}
	if cfg.CandidateMaxAge <= 0 {
		cfg.CandidateMaxAge = 5 * time.Second
	}

	return &MessageQueue{
		rooms:   make(map[domain.RoomID][]QueuedMessage),
		drain:   drain,
		cfg:     cfg,
		metrics: metrics,
		stopCh:  make(chan struct{}),
		logger:  logger.Sugar(),
	}
}

// Enqueue tags the message with priority and timestamp and inserts it in
// (priority asc, enqueuedAt asc) order.
func (q *MessageQueue) Enqueue(msg QueuedMessage) {
	msg.Priority = messagePriority(msg.Type)
	msg.EnqueuedAt = time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.rooms[msg.RoomID]
	idx := sort.Search(len(list), func(i int) bool {
		if list[i].Priority != msg.Priority {
			return list[i].Priority > msg.Priority
		}
		return list[i].EnqueuedAt.After(msg.EnqueuedAt)
	})

	list = append(list, QueuedMessage{})
	copy(list[idx+1:], list[idx:])
	list[idx] = msg

	if len(list) > q.cfg.MaxPending {
		list = q.dropAgedCandidates(msg.RoomID, list, msg.EnqueuedAt)
	}
	q.rooms[msg.RoomID] = list

	if q.metrics != nil {
		q.metrics.RecordEnqueued(string(msg.Type))
		q.metrics.RecordQueueDepth(string(msg.RoomID), len(list))
	}
}

// dropAgedCandidates removes ice-candidate entries older than CandidateMaxAge
// relative to the enqueue that tripped the guard. Offers and answers are never
// dropped. Caller holds q.mu.
func (q *MessageQueue) dropAgedCandidates(roomID domain.RoomID, list []QueuedMessage, now time.Time) []QueuedMessage {
	kept := list[:0]
	dropped := 0
	for _, m := range list {
		if m.Type == MessageICECandidate && now.Sub(m.EnqueuedAt) > q.cfg.CandidateMaxAge {
			dropped++
			continue
		}
		kept = append(kept, m)
	}

	if dropped > 0 {
		q.logger.Warnw("dropped aged ice candidates under backpressure",
			"room_id", roomID,
			"dropped", dropped,
			"pending", len(kept),
		)
		if q.metrics != nil {
			q.metrics.RecordDroppedCandidates(dropped)
		}
	}
	return kept
}

// Len reports the pending message count for a room.
func (q *MessageQueue) Len(roomID domain.RoomID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rooms[roomID])
}

// PendingTotal reports the pending message count across all rooms.
func (q *MessageQueue) PendingTotal() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, list := range q.rooms {
		total += len(list)
	}
	return total
}

// Start runs the drain loop until the context is done or Stop is called.
func (q *MessageQueue) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(q.cfg.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-ticker.C:
				q.DrainOnce(ctx)
			}
		}
	}()
}

// Stop terminates the drain loop.
func (q *MessageQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

type pairKey struct {
	from domain.PeerID
	to   domain.PeerID
}

// DrainOnce takes up to BatchSize messages from the head of every non-empty
// room queue, coalesces them per directed pair and dispatches each group.
// A failing group is logged and skipped; other groups still process.
func (q *MessageQueue) DrainOnce(ctx context.Context) {
	type roomBatch struct {
		roomID domain.RoomID
		msgs   []QueuedMessage
	}

	q.mu.Lock()
	var batches []roomBatch
	for roomID, list := range q.rooms {
		if len(list) == 0 {
			continue
		}
		take := q.cfg.BatchSize
		if take > len(list) {
			take = len(list)
		}
		msgs := make([]QueuedMessage, take)
		copy(msgs, list[:take])
		rest := list[take:]
		if len(rest) == 0 {
			delete(q.rooms, roomID)
		} else {
			q.rooms[roomID] = rest
		}
		batches = append(batches, roomBatch{roomID: roomID, msgs: msgs})
	}
	q.mu.Unlock()

	for _, rb := range batches {
		groups := make(map[pairKey]*ports.SignalBatch)
		var order []pairKey
		for _, msg := range rb.msgs {
			key := pairKey{from: msg.From, to: msg.To}
			group, ok := groups[key]
			if !ok {
				group = &ports.SignalBatch{}
				groups[key] = group
				order = append(order, key)
			}
			// A message without a payload still counts as present in its group.
			payload := msg.Payload
			if len(payload) == 0 {
				payload = json.RawMessage("null")
			}
			switch msg.Type {
			case MessageOffer:
				group.Offer = payload
			case MessageAnswer:
				group.Answer = payload
			case MessageICECandidate:
				group.Candidates = append(group.Candidates, payload)
			}
		}

		for _, key := range order {
			if err := q.drain(ctx, rb.roomID, key.from, key.to, *groups[key]); err != nil {
				q.logger.Warnw("drain group failed",
					"room_id", rb.roomID,
					"from", key.from,
					"to", key.to,
					"error", err,
				)
			}
		}
	}
}
