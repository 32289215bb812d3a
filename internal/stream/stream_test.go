package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := s.Subscribe(ctx)
	ch2 := s.Subscribe(ctx)
	if got := s.Subscribers(); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}

	s.Publish(Event{ID: "e1", RecipientID: "r1", Type: "match"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.ID != "e1" {
				t.Fatalf("subscriber %d: unexpected event %+v", i, evt)
			}
			if evt.Timestamp.IsZero() {
				t.Fatalf("subscriber %d: timestamp not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: no event received", i)
		}
	}
}

func TestPublishKeepsExplicitTimestamp(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Publish(Event{ID: "e1", Timestamp: at})

	select {
	case evt := <-ch:
		if !evt.Timestamp.Equal(at) {
			t.Fatalf("timestamp overwritten: %v", evt.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Subscribe(ctx)

	// fill the buffer and then some; Publish must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(Event{ID: "e"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// the buffered prefix is still there
	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Fatalf("expected up to one buffer of events, got %d", received)
	}
}

func TestSubscribeClosesOnContextEnd(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// publishing after unsubscribe must be a no-op
	s.Publish(Event{ID: "late"})
	if got := s.Subscribers(); got != 0 {
		t.Fatalf("expected 0 subscribers, got %d", got)
	}
}
