package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "message.")
	defer unsub()

	b.Publish(Event{Kind: "message.upserted", Payload: "c1"})

	select {
	case evt := <-ch:
		if evt.Kind != "message.upserted" {
			t.Errorf("got kind %q, want message.upserted", evt.Kind)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp was not stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "rt.")
	defer unsub()

	b.Publish(Event{Kind: "session.status_changed"})
	b.Publish(Event{Kind: "rt.message"})

	select {
	case evt := <-ch:
		if evt.Kind != "rt.message" {
			t.Errorf("got kind %q, want rt.message", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultiplePrefixes(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "message.", "conversation.")
	defer unsub()

	b.Publish(Event{Kind: "conversation.updated"})
	b.Publish(Event{Kind: "rt.status"})
	b.Publish(Event{Kind: "message.send_failed"})

	var got []string
	for len(got) < 2 {
		select {
		case evt := <-ch:
			got = append(got, evt.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timeout, got %v", got)
		}
	}
	if got[0] != "conversation.updated" || got[1] != "message.send_failed" {
		t.Errorf("got %v, want [conversation.updated message.send_failed]", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "session.")
	unsub()
	unsub() // second call is a no-op

	b.Publish(Event{Kind: "session.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1, "test.")
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: "x.y"})
}
