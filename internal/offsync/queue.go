package offsync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

// QueueKey is the reserved store key holding the full ordered queue.
const QueueKey = "offlineQueue"

// ReplayFunc attempts one queued request against the network. A nil return
// means confirmed HTTP success; anything else keeps the entry queued.
type ReplayFunc func(ctx context.Context, qr QueuedRequest) error

// Queue is the durable FIFO of pending mutations. The whole list lives
// under one reserved store key; depths are expected to stay small.
type Queue struct {
	mu      sync.Mutex
	store   *Store
	items   []QueuedRequest
	limiter *rate.Limiter

	stats     *statsCollector
	replayLog *rateLimitedLogger
}

// NewQueue loads any persisted queue so a process restart does not lose
// pending work.
func NewQueue(store *Store, limiter *rate.Limiter, stats *statsCollector) (*Queue, error) {
	q := &Queue{
		store:     store,
		limiter:   limiter,
		stats:     stats,
		replayLog: newRateLimitedLogger(30 * time.Second),
	}
	if limiter == nil {
		q.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if stats == nil {
		q.stats = newStatsCollector()
	}
	if _, err := store.Get(QueueKey, &q.items); err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return q, nil
}

func newQueueID() string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

// Enqueue appends a pending call and persists the full list.
func (q *Queue) Enqueue(endpoint string, opts RequestOptions) (QueuedRequest, error) {
	qr := QueuedRequest{
		ID:        newQueueID(),
		Endpoint:  endpoint,
		Options:   opts,
		CreatedAt: time.Now().UnixMilli(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, qr)
	if err := q.persistLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return QueuedRequest{}, err
	}
	q.stats.enqueued.Add(1)
	return qr, nil
}

// Drain replays queued entries strictly in insertion order. A failed entry
// is logged and left in place while later entries still get their attempt:
// one stuck request never blocks the ones behind it. Safe to call on every
// reconnect; an empty pass is a no-op.
func (q *Queue) Drain(ctx context.Context, replay ReplayFunc) (replayed, remaining int) {
	q.mu.Lock()
	snapshot := make([]QueuedRequest, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	if len(snapshot) == 0 {
		return 0, 0
	}

	succeeded := make(map[string]bool, len(snapshot))
	attempts := make(map[string]int, len(snapshot))
	for _, qr := range snapshot {
		if err := q.limiter.Wait(ctx); err != nil {
			break
		}
		attempts[qr.ID] = qr.Attempts + 1
		if err := replay(ctx, qr); err != nil {
			// Fire-and-forget: the original caller already got "queued".
			q.replayLog.Printf("queue: replay %s %s failed (attempt %d): %v",
				qr.ID, qr.Endpoint, attempts[qr.ID], err)
			q.stats.replayFailed.Add(1)
			continue
		}
		succeeded[qr.ID] = true
		q.stats.replayed.Add(1)
	}

	q.mu.Lock()
	q.items = lo.Filter(q.items, func(qr QueuedRequest, _ int) bool {
		return !succeeded[qr.ID]
	})
	for i := range q.items {
		if n, ok := attempts[q.items[i].ID]; ok {
			q.items[i].Attempts = n
		}
	}
	if err := q.persistLocked(); err != nil {
		log.Printf("queue: persist after drain: %v", err)
	}
	remaining = len(q.items)
	q.mu.Unlock()

	replayed = len(succeeded)
	log.Printf("queue: drain replayed=%d remaining=%d", replayed, remaining)
	return replayed, remaining
}

// Items returns a copy of the pending entries in insertion order.
func (q *Queue) Items() []QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedRequest, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops all pending entries. This is the manual escape hatch for a
// permanently failing entry; there is no automatic expiry.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	return q.persistLocked()
}

func (q *Queue) persistLocked() error {
	if len(q.items) == 0 {
		return q.store.Remove(QueueKey)
	}
	return q.store.Save(QueueKey, q.items)
}
