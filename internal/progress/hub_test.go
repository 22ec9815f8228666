package progress

import (
	"fmt"
	"testing"
	"time"
)

func recvEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event: %#v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastFanOut(t *testing.T) {
	hub := NewHub(nil)
	sub1 := hub.Attach("f1")
	sub2 := hub.Attach("f1")

	events := []Event{
		{FileID: "f1", Status: "processing", Progress: 10},
		{FileID: "f1", Status: "processing", Progress: 20},
		{FileID: "f1", Status: "ready", Progress: 100},
	}
	for _, event := range events {
		hub.Broadcast(event)
	}

	for _, sub := range []*Subscriber{sub1, sub2} {
		for i, want := range events {
			got := recvEvent(t, sub)
			if got != want {
				t.Fatalf("event[%d] = %#v, want %#v", i, got, want)
			}
		}
	}
}

func TestBroadcastOtherFileID(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Attach("f1")

	hub.Broadcast(Event{FileID: "f2", Status: "processing", Progress: 50})

	assertNoEvent(t, sub)
}

func TestDetachIdempotent(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Attach("f1")

	hub.Detach(sub)
	hub.Detach(sub)

	if count := hub.Count("f1"); count != 0 {
		t.Fatalf("subscriber count = %d, want 0", count)
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("expected Done to be closed after detach")
	}
}

func TestDetachRemovesEmptyEntry(t *testing.T) {
	hub := NewHub(nil)
	sub1 := hub.Attach("f1")
	sub2 := hub.Attach("f1")

	hub.Detach(sub1)
	if count := hub.Count("f1"); count != 1 {
		t.Fatalf("subscriber count = %d, want 1", count)
	}

	hub.Detach(sub2)
	if count := hub.Count("f1"); count != 0 {
		t.Fatalf("subscriber count = %d, want 0", count)
	}

	hub.mu.Lock()
	_, exists := hub.subscribers["f1"]
	hub.mu.Unlock()
	if exists {
		t.Fatal("expected empty fileID entry to be removed")
	}
}

func TestLateAttachNoReplay(t *testing.T) {
	hub := NewHub(nil)

	hub.Broadcast(Event{FileID: "f1", Status: "processing", Progress: 30})

	sub := hub.Attach("f1")
	hub.Broadcast(Event{FileID: "f1", Status: "processing", Progress: 40})

	got := recvEvent(t, sub)
	if got.Progress != 40 {
		t.Fatalf("progress = %d, want 40", got.Progress)
	}
	assertNoEvent(t, sub)
}

func TestSlowSubscriberEvicted(t *testing.T) {
	hub := NewHub(nil)
	slow := hub.Attach("f1")
	fast := hub.Attach("f1")

	received := make(chan Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event := <-fast.Events():
				received <- event
			case <-fast.Done():
				return
			case <-time.After(time.Second):
				return
			}
		}
	}()

	// slow 側は一切受信しない。バッファ分を超えた送信で排除される。
	total := subscriberBuffer + 1
	for i := 1; i <= total; i++ {
		hub.Broadcast(Event{FileID: "f1", Status: "processing", Progress: i * 10})
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("expected slow subscriber to be detached")
	}
	if count := hub.Count("f1"); count != 1 {
		t.Fatalf("subscriber count = %d, want 1", count)
	}

	hub.Detach(fast)
	<-done
	close(received)

	var got []Event
	for event := range received {
		got = append(got, event)
	}
	if len(got) != total {
		t.Fatalf("fast subscriber received %d events, want %d: %#v", len(got), total, got)
	}
	for i, event := range got {
		if want := (i + 1) * 10; event.Progress != want {
			t.Fatalf("event[%d].Progress = %d, want %d", i, event.Progress, want)
		}
	}
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub(nil)
	// 購読者ゼロでも何も起きないことだけ確認する
	hub.Broadcast(Event{FileID: "f1", Status: "ready", Progress: 100})
}

func TestConcurrentAttachDetach(t *testing.T) {
	hub := NewHub(nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			hub.Broadcast(Event{FileID: "f1", Status: "processing", Progress: i})
		}
	}()

	for i := 0; i < 50; i++ {
		sub := hub.Attach("f1")
		go func(n int) {
			for {
				select {
				case <-sub.Events():
				case <-sub.Done():
					return
				}
			}
		}(i)
		hub.Detach(sub)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast loop did not finish")
	}
	if count := hub.Count("f1"); count != 0 {
		t.Fatalf("subscriber count = %d, want 0", count)
	}
}

func TestSubscriberFileID(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("f%d", i)
		sub := hub.Attach(id)
		if sub.FileID() != id {
			t.Fatalf("FileID() = %s, want %s", sub.FileID(), id)
		}
	}
}
