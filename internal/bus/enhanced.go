package bus

import (
	"sync"
	"time"
)

// RetryItem wraps an event that failed to reach at least one subscriber,
// per spec.md §4.5 "Enhanced bus".
type RetryItem[T any] struct {
	Event      T
	RetryCount int
	MaxRetries int
	LastError  string
	Timestamp  time.Time
}

// DeadLetter is a RetryItem whose retries were exhausted, kept for
// diagnostics with the reason it was given up on.
type DeadLetter[T any] struct {
	Item   RetryItem[T]
	Reason string
}

// HistoryEntry records one published event with a monotonic sequence
// number and the component that published it, enabling
// GetEventHistorySince / ReplayEvents to reconstruct bus activity
// deterministically.
type HistoryEntry struct {
	Seq    uint64
	Source string
	Kind   string
	Event  any
}

// EnhancedBus wraps a Bus with a retry queue and an event history ring,
// mirroring the teacher's events.Broker locking granularity: one
// sync.RWMutex guards the sequence counter and history, while the subscriber
// set stays under the embedded Bus's own lock and delivery uses channels.
type EnhancedBus struct {
	*Bus

	mu      sync.RWMutex
	seq     uint64
	history []HistoryEntry
	maxHist int
}

// NewEnhanced wraps an existing Bus, retaining up to maxHistory entries
// (oldest dropped first once exceeded).
func NewEnhanced(b *Bus, maxHistory int) *EnhancedBus {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &EnhancedBus{Bus: b, maxHist: maxHistory}
}

// PublishTracked publishes event under Bus.Publish and records it in the
// history ring, tagging it with source and a human-readable kind.
func PublishTracked[T any](eb *EnhancedBus, source, kind string, event T) PublishResult {
	result := Publish(eb.Bus, event)

	eb.mu.Lock()
	eb.seq++
	entry := HistoryEntry{Seq: eb.seq, Source: source, Kind: kind, Event: event}
	eb.history = append(eb.history, entry)
	if len(eb.history) > eb.maxHist {
		eb.history = eb.history[len(eb.history)-eb.maxHist:]
	}
	eb.mu.Unlock()

	return result
}

// GetEventHistorySince returns every recorded event with Seq > since, in
// publish order.
func (eb *EnhancedBus) GetEventHistorySince(since uint64) []HistoryEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	out := make([]HistoryEntry, 0, len(eb.history))
	for _, e := range eb.history {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}

// ReplayEvents re-publishes every history entry with Seq >= from, in order,
// onto their original event-type channels via the supplied replay func
// (the caller must know each Kind's concrete Go type to republish it, so
// ReplayEvents delegates dispatch instead of doing it generically).
func (eb *EnhancedBus) ReplayEvents(from uint64, replay func(HistoryEntry)) {
	eb.mu.RLock()
	entries := make([]HistoryEntry, 0, len(eb.history))
	for _, e := range eb.history {
		if e.Seq >= from {
			entries = append(entries, e)
		}
	}
	eb.mu.RUnlock()

	for _, e := range entries {
		replay(e)
	}
}

// RetryQueue holds failed publishes of one event type T for later retry,
// escalating exhausted items to a dead-letter slice.
type RetryQueue[T any] struct {
	mu          sync.Mutex
	pending     []RetryItem[T]
	deadLetters []DeadLetter[T]
}

// NewRetryQueue returns an empty RetryQueue.
func NewRetryQueue[T any]() *RetryQueue[T] {
	return &RetryQueue[T]{}
}

// Enqueue adds a failed event with the given retry budget.
func (q *RetryQueue[T]) Enqueue(event T, maxRetries int, lastErr string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, RetryItem[T]{
		Event: event, RetryCount: 0, MaxRetries: maxRetries, LastError: lastErr, Timestamp: time.Now(),
	})
}

// ProcessRetries attempts send via the supplied publish func for every
// pending item; items that still fail have RetryCount incremented and are
// either kept pending or, once MaxRetries is exhausted, moved to the
// dead-letter queue with reason.
func (q *RetryQueue[T]) ProcessRetries(publish func(T) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stillPending []RetryItem[T]
	for _, item := range q.pending {
		if publish(item.Event) {
			continue
		}
		item.RetryCount++
		item.Timestamp = time.Now()
		if item.RetryCount >= item.MaxRetries {
			q.deadLetters = append(q.deadLetters, DeadLetter[T]{Item: item, Reason: "max retries exhausted"})
			continue
		}
		stillPending = append(stillPending, item)
	}
	q.pending = stillPending
}

// DeadLetters returns a snapshot of the dead-letter queue.
func (q *RetryQueue[T]) DeadLetters() []DeadLetter[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter[T](nil), q.deadLetters...)
}

// Pending returns a snapshot of items still awaiting retry.
func (q *RetryQueue[T]) Pending() []RetryItem[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]RetryItem[T](nil), q.pending...)
}
