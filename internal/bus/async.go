package bus

import (
	"context"
	"fmt"
	"time"
)

// AsyncConsumer wraps a Consumer with an awaitable Receive that honors both
// a context and an explicit timeout.
type AsyncConsumer[T any] struct {
	*Consumer[T]
}

// SubscribeAsync is the awaitable counterpart of Subscribe.
func SubscribeAsync[T any](b *Bus) *AsyncConsumer[T] {
	return &AsyncConsumer[T]{Consumer: Subscribe[T](b)}
}

// ErrTimeout is returned by Receive when neither an event nor ctx
// cancellation arrives before timeout elapses.
var ErrTimeout = fmt.Errorf("bus: receive timed out")

// Receive blocks until an event arrives, ctx is done, or timeout elapses,
// whichever happens first.
func (c *AsyncConsumer[T]) Receive(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v, ok := <-c.typed:
		if !ok {
			return zero, fmt.Errorf("bus: consumer closed")
		}
		return v, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// MultiplexEntry pairs a multiplexed value with the registered event kind
// name it arrived under, since SubscribeAll fans several Go types into one
// channel of `any`.
type MultiplexEntry struct {
	Kind  string
	Value any
}

// multiplexRegistration is built by subscribeInto, one per event type added
// with SubscribeAllOf: it names the type and holds the function that
// unsubscribes its forwarding consumer.
type multiplexRegistration struct {
	kind      string
	unsub     func()
}

// AllSubscription is the live handle returned by SubscribeAll.
type AllSubscription struct {
	sink  chan MultiplexEntry
	regs  []multiplexRegistration
}

// Events returns the unified multiplexed stream.
func (a *AllSubscription) Events() <-chan MultiplexEntry { return a.sink }

// Close unsubscribes every underlying consumer and closes the sink.
func (a *AllSubscription) Close() {
	for _, r := range a.regs {
		r.unsub()
	}
	close(a.sink)
}

// subscribeInto registers consumer type T on b and forwards the events it
// receives onto sink tagged with kind, until the registration's unsub is
// called. An event that arrives while sink is full is dropped.
func subscribeInto[T any](b *Bus, kind string, sink chan MultiplexEntry) multiplexRegistration {
	c := Subscribe[T](b)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range c.typed {
			select {
			case sink <- MultiplexEntry{Kind: kind, Value: v}:
			default:
			}
		}
	}()
	return multiplexRegistration{kind: kind, unsub: func() {
		c.Unsubscribe()
		<-done
	}}
}

// SubscribeAll multiplexes every event type registered via register calls
// into one MultiplexEntry stream, per spec.md §4.5 "subscribe_all".
// Callers build the set of types to multiplex with SubscribeAllOf.
func SubscribeAll(b *Bus, bufferSize int) *AllSubscription {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	return &AllSubscription{sink: make(chan MultiplexEntry, bufferSize)}
}

// SubscribeAllOf adds event type T to an existing AllSubscription. Call
// once per declared event type after constructing the subscription with
// SubscribeAll.
func SubscribeAllOf[T any](b *Bus, a *AllSubscription, kind string) {
	a.regs = append(a.regs, subscribeInto[T](b, kind, a.sink))
}
