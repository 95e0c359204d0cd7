package events

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	hub := NewHub(4)
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	hub.Publish(TypeProposalSaved, map[string]any{"rfp_id": int64(7)})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != TypeProposalSaved || ev.Data["rfp_id"] != int64(7) || ev.ID == "" {
				t.Errorf("%s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s received nothing", name)
		}
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(TypePassCompleted, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
	if len(ch) != 1 {
		t.Errorf("buffered = %d, want 1", len(ch))
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	hub := NewHub(0)
	ch, cancel := hub.Subscribe()
	if hub.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", hub.Subscribers())
	}

	cancel()
	cancel()
	if hub.Subscribers() != 0 {
		t.Errorf("subscribers = %d after cancel", hub.Subscribers())
	}
	if _, open := <-ch; open {
		t.Error("channel still open")
	}
	hub.Publish(TypeEmailSent, nil)
}
