package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/comet-live/backend/internal/model"
)

// TestHubClientManagement tests Hub client registration and delivery
func TestHubClientManagement(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	client1 := NewClient(hub, nil, "conn-1", 4)
	client2 := NewClient(hub, nil, "conn-2", 4)

	hub.Register(client1)
	hub.Register(client2)

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
	if ids := hub.IDs(); len(ids) != 2 || ids[0] != "conn-1" || ids[1] != "conn-2" {
		t.Errorf("unexpected ids: %v", ids)
	}

	testData := []byte("test message")
	if err := hub.Send(context.Background(), "conn-2", testData); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	received := receiveWithTimeoutTest(t, client2, 100*time.Millisecond)
	if string(received) != string(testData) {
		t.Errorf("client2 received wrong data: %s", received)
	}
	if len(client1.SendChan()) != 0 {
		t.Error("client1 should not receive a message addressed to client2")
	}

	hub.Unregister(client1)
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after unregister, got %d", hub.ClientCount())
	}
	if !client1.IsClosed() {
		t.Error("unregistered client should be closed")
	}
}

func TestHubSend_Outcomes(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	if err := hub.Send(ctx, "unknown", []byte("x")); !errors.Is(err, model.ErrConnectionGone) {
		t.Errorf("expected ErrConnectionGone for unknown id, got %v", err)
	}

	full := NewClient(hub, nil, "full", 1)
	hub.Register(full)
	if err := hub.Send(ctx, "full", []byte("1")); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := hub.Send(ctx, "full", []byte("2")); !errors.Is(err, model.ErrSendBufferFull) {
		t.Errorf("expected ErrSendBufferFull, got %v", err)
	}
	if full.IsClosed() {
		t.Error("a full buffer must not close the client")
	}

	full.Close()
	if err := hub.Send(ctx, "full", []byte("3")); !errors.Is(err, model.ErrConnectionGone) {
		t.Errorf("expected ErrConnectionGone for closed client, got %v", err)
	}
}

func TestHubDisconnect(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, nil, "conn-1", 4)
	hub.Register(client)

	if err := hub.Disconnect("conn-1"); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if !client.IsClosed() {
		t.Error("expected client to be closed")
	}
	if _, ok := <-client.SendChan(); ok {
		t.Error("expected send channel to be closed")
	}

	if err := hub.Disconnect("missing"); !errors.Is(err, model.ErrConnectionNotFound) {
		t.Errorf("expected ErrConnectionNotFound, got %v", err)
	}
}

func TestHubRegister_ReplacesSameID(t *testing.T) {
	hub := NewHub()
	old := NewClient(hub, nil, "conn-1", 4)
	newer := NewClient(hub, nil, "conn-1", 4)

	hub.Register(old)
	hub.Register(newer)

	if !old.IsClosed() {
		t.Error("replaced client should be closed")
	}

	// A late unregister of the replaced client leaves the newer one alone.
	hub.Unregister(old)
	got, ok := hub.Get("conn-1")
	if !ok || got != newer {
		t.Error("newer client was removed by a stale unregister")
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	clients := []*Client{
		NewClient(hub, nil, "a", 4),
		NewClient(hub, nil, "b", 4),
	}
	for _, c := range clients {
		hub.Register(c)
	}

	hub.Close()

	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
	for _, c := range clients {
		if !c.IsClosed() {
			t.Errorf("client %s not closed", c.ID())
		}
	}
}

func TestClientAllow(t *testing.T) {
	client := NewClient(nil, nil, "c", 0)
	if cap(client.send) != defaultSendBufferSize {
		t.Errorf("expected default buffer %d, got %d", defaultSendBufferSize, cap(client.send))
	}
	for i := 0; i < 100; i++ {
		if !client.allow() {
			t.Fatal("a client without a limiter must always be allowed")
		}
	}
}

func receiveWithTimeoutTest(t *testing.T, client *Client, timeout time.Duration) []byte {
	t.Helper()
	select {
	case data := <-client.SendChan():
		return data
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
		return nil
	}
}
