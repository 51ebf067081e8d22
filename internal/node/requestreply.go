package node

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/datafold/datafold/internal/bus"
)

// RequestReply publishes req on b, then waits for the first Resp whose
// correlation id (extracted via correlationOf) matches want, discarding any
// mismatched replies in between — the one place the bus's fire-and-forget
// publish needs to look like a blocking call (spec.md §4.5 "request/reply
// contract"). The response subscription is established before publishing so
// a reply published immediately after Publish can never race past it.
func RequestReply[Req, Resp any](ctx context.Context, b *bus.Bus, req Req, want uuid.UUID, correlationOf func(Resp) uuid.UUID, timeout time.Duration) (Resp, error) {
	consumer := bus.Subscribe[Resp](b)
	defer consumer.Unsubscribe()

	bus.Publish(b, req)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case resp := <-consumer.Events():
			if correlationOf(resp) == want {
				return resp, nil
			}
		case <-deadline.C:
			var zero Resp
			return zero, fmt.Errorf("node: request reply timed out after %s", timeout)
		case <-ctx.Done():
			var zero Resp
			return zero, ctx.Err()
		}
	}
}
