package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestHub_DeliversToAllSubscribers(t *testing.T) {
	h := New(Options{})

	ch1, cancel1 := h.Subscribe()
	defer cancel1()
	ch2, cancel2 := h.Subscribe()
	defer cancel2()

	delivered, dropped := h.Publish(Event{Type: EventMessage, Data: "hello"})
	if delivered != 2 {
		t.Errorf("Expected 2 delivered, got %d", delivered)
	}
	if dropped != 0 {
		t.Errorf("Expected 0 dropped, got %d", dropped)
	}

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != EventMessage {
				t.Errorf("Subscriber %d: wrong type %s", i, evt.Type)
			}
			if evt.Data != "hello" {
				t.Errorf("Subscriber %d: wrong data %v", i, evt.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d: no event received", i)
		}
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := New(Options{BufferSize: 2})

	_, cancel := h.Subscribe()
	defer cancel()

	// Fill the buffer without draining, then publish one more.
	h.Publish(Event{Type: EventMessage, Data: 1})
	h.Publish(Event{Type: EventMessage, Data: 2})

	done := make(chan struct{})
	var delivered, dropped int
	go func() {
		delivered, dropped = h.Publish(Event{Type: EventMessage, Data: 3})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if delivered != 0 {
		t.Errorf("Expected 0 delivered, got %d", delivered)
	}
	if dropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", dropped)
	}
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	h := New(Options{})

	ch, cancel := h.Subscribe()
	if h.SubscriberCount() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", h.SubscriberCount())
	}

	cancel()
	if h.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers after cancel, got %d", h.SubscriberCount())
	}

	// Channel must be closed.
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Error("Channel not closed after cancel")
	}

	// Double cancel must not panic.
	cancel()

	delivered, _ := h.Publish(Event{Type: EventMessage})
	if delivered != 0 {
		t.Errorf("Expected 0 delivered after cancel, got %d", delivered)
	}
}

func TestHub_RecentIsBoundedToReadings(t *testing.T) {
	h := New(Options{HistoryLimit: 5})

	for i := 0; i < 12; i++ {
		h.Publish(Event{Type: EventReading, Data: i})
	}
	// Non-reading events never enter history.
	h.Publish(Event{Type: EventDeviceStatus, Data: "connected"})
	h.Publish(Event{Type: EventError, Data: "boom"})

	recent := h.Recent()
	if len(recent) != 5 {
		t.Fatalf("Expected 5 recent events, got %d", len(recent))
	}
	// Oldest-first, trimmed from the front.
	if recent[0].Data != 7 || recent[4].Data != 11 {
		t.Errorf("Expected readings 7..11, got %v..%v", recent[0].Data, recent[4].Data)
	}
	for _, evt := range recent {
		if evt.Type != EventReading {
			t.Errorf("History should only hold readings, found %s", evt.Type)
		}
	}
}

func TestHub_RecentReturnsCopy(t *testing.T) {
	h := New(Options{})
	h.Publish(Event{Type: EventReading, Data: 1})

	recent := h.Recent()
	recent[0] = Event{Type: EventError, Data: "mutated"}

	again := h.Recent()
	if again[0].Type != EventReading {
		t.Error("Recent exposed internal history slice")
	}
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	h := New(Options{HistoryLimit: 100})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ch, cancel := h.Subscribe()
			for j := 0; j < 20; j++ {
				h.Publish(Event{Type: EventReading, Data: fmt.Sprintf("%d-%d", n, j)})
			}
			// Drain whatever arrived, then leave.
			for {
				select {
				case <-ch:
				default:
					cancel()
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if h.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers after all cancelled, got %d", h.SubscriberCount())
	}
	if len(h.Recent()) != 100 {
		t.Errorf("Expected full history of 100, got %d", len(h.Recent()))
	}
}
