package feed

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meshweb/models"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub(zerolog.Nop())
	t.Cleanup(hub.Close)
	return hub
}

func receiveMessage(t *testing.T, sub *Subscriber) models.Message {
	t.Helper()

	select {
	case message := <-sub.Events():
		return message
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for published message")
		return models.Message{}
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := newTestHub(t)

	first := hub.Subscribe()
	second := hub.Subscribe()

	hub.Publish(models.Message{MessageID: "msg-1", Content: "hello"})

	if got := receiveMessage(t, first); got.MessageID != "msg-1" {
		t.Fatalf("first subscriber got %q", got.MessageID)
	}
	if got := receiveMessage(t, second); got.MessageID != "msg-1" {
		t.Fatalf("second subscriber got %q", got.MessageID)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := newTestHub(t)

	sub := hub.Subscribe()
	hub.Unsubscribe(sub)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Done after unsubscribe")
	}

	hub.Publish(models.Message{MessageID: "msg-after"})
	select {
	case message := <-sub.Events():
		t.Fatalf("unexpected delivery after unsubscribe: %q", message.MessageID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStalledSubscriberIsDropped(t *testing.T) {
	hub := newTestHub(t)

	stalled := hub.Subscribe()
	healthy := hub.Subscribe()

	// One more than the buffer, never drained.
	for i := 0; i <= DefaultSubscriberBuffer; i++ {
		hub.Publish(models.Message{MessageID: "msg-flood"})
	}

	select {
	case <-stalled.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected stalled subscriber to be dropped")
	}

	// The healthy subscriber was dropped too (same flood, also undrained);
	// a fresh subscriber still receives new messages.
	<-healthy.Done()

	fresh := hub.Subscribe()
	hub.Publish(models.Message{MessageID: "msg-fresh"})
	if got := receiveMessage(t, fresh); got.MessageID != "msg-fresh" {
		t.Fatalf("fresh subscriber got %q", got.MessageID)
	}
}

func TestCloseCompletesSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sub := hub.Subscribe()

	hub.Close()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Done after hub close")
	}

	// Publish and Subscribe after close must not block.
	hub.Publish(models.Message{MessageID: "msg-late"})
	late := hub.Subscribe()
	select {
	case <-late.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected post-close subscriber to be done immediately")
	}
}
