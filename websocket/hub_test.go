package websocket

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestClient(h *Hub, runID string) *Client {
	return &Client{Hub: h, Send: make(chan []byte, 4), RunID: runID}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesOnlyThatRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	a1, a2, b := newTestClient(h, "a"), newTestClient(h, "a"), newTestClient(h, "b")
	for _, c := range []*Client{a1, a2, b} {
		h.Register(c)
	}
	waitFor(t, func() bool { return h.Watchers("a") == 2 && h.Watchers("b") == 1 })

	h.BroadcastToRun("a", []byte(`{"type":"phase"}`))
	for _, c := range []*Client{a1, a2} {
		select {
		case msg := <-c.Send:
			if string(msg) != `{"type":"phase"}` {
				t.Fatalf("unexpected payload %s", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("watcher of run a got nothing")
		}
	}
	select {
	case msg := <-b.Send:
		t.Fatalf("watcher of run b got %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	c := newTestClient(h, "a")
	h.Register(c)
	h.Unregister(c)
	waitFor(t, func() bool { return h.Watchers("a") == 0 })

	if _, ok := <-c.Send; ok {
		t.Fatal("send channel still open")
	}
	// Replying to a dropped client must not panic.
	c.Reply(Message{Type: "pong"})
}

func TestReplyWhileUnregistering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	c := &Client{Hub: h, Send: make(chan []byte, 64), RunID: "a"}
	h.Register(c)
	waitFor(t, func() bool { return h.Watchers("a") == 1 })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			c.Reply(Message{Type: "pong", RunID: "a"})
		}
	}()
	h.Unregister(c)
	wg.Wait()
	waitFor(t, func() bool { return h.Watchers("a") == 0 })

	for range c.Send {
	}
	if c.trySend([]byte("late")) {
		t.Fatal("send accepted after the client was dropped")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	c := &Client{Hub: h, Send: make(chan []byte, 1), RunID: "a"}
	h.Register(c)
	h.BroadcastToRun("a", []byte("1"))
	h.BroadcastToRun("a", []byte("2"))
	waitFor(t, func() bool { return h.Watchers("a") == 0 })
}

func TestHubStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := newTestClient(h, "a")
	h.Register(c)
	cancel()
	<-stopped

	// None of these may block once the hub is gone.
	done := make(chan struct{})
	go func() {
		h.BroadcastToRun("a", []byte("x"))
		h.Unregister(c)
		late := newTestClient(h, "a")
		h.Register(late)
		if _, ok := <-late.Send; ok {
			t.Error("late client send channel should be closed")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub calls blocked after shutdown")
	}
}
