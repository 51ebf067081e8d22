package bus

import (
	"context"
	"testing"
	"time"
)

type widgetCreated struct{ Name string }
type gadgetCreated struct{ Name string }

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := New(4)
	c := Subscribe[widgetCreated](b)
	defer c.Unsubscribe()

	result := Publish(b, widgetCreated{Name: "w1"})
	if result.Delivered != 1 || result.Dropped != 0 {
		t.Fatalf("Publish() = %+v, want 1 delivered 0 dropped", result)
	}

	select {
	case v := <-c.Events():
		if v.Name != "w1" {
			t.Fatalf("received %+v, want Name=w1", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishIsTypeIsolated(t *testing.T) {
	b := New(4)
	widgets := Subscribe[widgetCreated](b)
	defer widgets.Unsubscribe()
	gadgets := Subscribe[gadgetCreated](b)
	defer gadgets.Unsubscribe()

	Publish(b, widgetCreated{Name: "w1"})

	select {
	case <-gadgets.Events():
		t.Fatal("gadget subscriber received a widget event")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case v := <-widgets.Events():
		if v.Name != "w1" {
			t.Fatalf("got %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("widget subscriber never received its event")
	}
}

func TestPublishWithNoSubscribersIsNotAnError(t *testing.T) {
	b := New(4)
	result := Publish(b, widgetCreated{Name: "lonely"})
	if result.Delivered != 0 || result.Dropped != 0 {
		t.Fatalf("Publish() with no subscribers = %+v, want zero both", result)
	}
}

func TestUnsubscribeRemovesConsumer(t *testing.T) {
	b := New(4)
	c := Subscribe[widgetCreated](b)
	if got := SubscriberCount[widgetCreated](b); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}
	c.Unsubscribe()
	if got := SubscriberCount[widgetCreated](b); got != 0 {
		t.Fatalf("SubscriberCount() after Unsubscribe() = %d, want 0", got)
	}
}

func TestAsyncReceiveTimesOut(t *testing.T) {
	b := New(4)
	c := SubscribeAsync[widgetCreated](b)
	defer c.Unsubscribe()

	_, err := c.Receive(context.Background(), 20*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("Receive() error = %v, want ErrTimeout", err)
	}
}

func TestAsyncReceiveDeliversEvent(t *testing.T) {
	b := New(4)
	c := SubscribeAsync[widgetCreated](b)
	defer c.Unsubscribe()

	Publish(b, widgetCreated{Name: "async"})

	v, err := c.Receive(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if v.Name != "async" {
		t.Fatalf("Receive() = %+v, want Name=async", v)
	}
}

func TestSubscribeAllMultiplexesEventTypes(t *testing.T) {
	b := New(4)
	all := SubscribeAll(b, 8)
	SubscribeAllOf[widgetCreated](b, all, "widget.created")
	SubscribeAllOf[gadgetCreated](b, all, "gadget.created")
	defer all.Close()

	Publish(b, widgetCreated{Name: "w1"})
	Publish(b, gadgetCreated{Name: "g1"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-all.Events():
			seen[e.Kind] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for multiplexed event")
		}
	}
	if !seen["widget.created"] || !seen["gadget.created"] {
		t.Fatalf("seen = %v, want both kinds", seen)
	}
}

func TestEnhancedBusRecordsHistory(t *testing.T) {
	eb := NewEnhanced(New(4), 10)
	PublishTracked(eb, "test-source", "widget.created", widgetCreated{Name: "w1"})
	PublishTracked(eb, "test-source", "widget.created", widgetCreated{Name: "w2"})

	since0 := eb.GetEventHistorySince(0)
	if len(since0) != 2 {
		t.Fatalf("GetEventHistorySince(0) len = %d, want 2", len(since0))
	}

	since1 := eb.GetEventHistorySince(since0[0].Seq)
	if len(since1) != 1 {
		t.Fatalf("GetEventHistorySince(seq1) len = %d, want 1", len(since1))
	}
}

func TestRetryQueueEscalatesToDeadLetter(t *testing.T) {
	q := NewRetryQueue[widgetCreated]()
	q.Enqueue(widgetCreated{Name: "stubborn"}, 2, "initial failure")

	q.ProcessRetries(func(widgetCreated) bool { return false })
	if len(q.Pending()) != 1 {
		t.Fatalf("Pending() len = %d after 1st failed retry, want 1", len(q.Pending()))
	}

	q.ProcessRetries(func(widgetCreated) bool { return false })
	if len(q.Pending()) != 0 {
		t.Fatalf("Pending() len = %d after exhausting retries, want 0", len(q.Pending()))
	}
	if len(q.DeadLetters()) != 1 {
		t.Fatalf("DeadLetters() len = %d, want 1", len(q.DeadLetters()))
	}
}
