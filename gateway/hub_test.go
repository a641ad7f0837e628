package gateway

import (
	"context"
	"log/slog"
	"story-lab/domain"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeClient(identity string, buffer int) *Client {
	return &Client{
		identity: identity,
		log:      slog.Default(),
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

func TestHub_Consume_OnlyRecipients(t *testing.T) {
	req := require.New(t)
	hub := NewHub(slog.Default())
	alice, bob, carol := fakeClient("alice", 4), fakeClient("bob", 4), fakeClient("carol", 4)
	hub.Register(alice)
	hub.Register(bob)
	hub.Register(carol)

	// Given an event addressed to alice and bob, and to someone never connected
	env := domain.Envelope{
		Room:       1,
		Recipients: []string{"alice", "bob", "dave"},
		Event:      domain.SnippetReceived{DisplayName: "Alice"},
	}

	// When the hub consumes it
	req.NoError(hub.Consume(context.Background(), env))

	// Then only the recipients get the frame
	req.Len(alice.send, 1)
	req.Len(bob.send, 1)
	req.Empty(carol.send)
	req.JSONEq(`{"type":"snippet_received","payload":{"display_name":"Alice"}}`, string(<-alice.send))
}

func TestHub_Consume_FullBufferDoesNotBlock(t *testing.T) {
	req := require.New(t)
	hub := NewHub(slog.Default())
	slow := fakeClient("slow", 1)
	hub.Register(slow)
	env := domain.Envelope{Room: 1, Recipients: []string{"slow"}, Event: domain.GameStarted{Triggerer: "Slow"}}

	req.NoError(hub.Consume(context.Background(), env))
	req.NoError(hub.Consume(context.Background(), env))

	req.Len(slow.send, 1)
}

func TestHub_Consume_CancelledContext(t *testing.T) {
	req := require.New(t)
	hub := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := hub.Consume(ctx, domain.Envelope{Recipients: []string{"alice"}, Event: domain.GameStarted{}})

	req.ErrorIs(err, context.Canceled)
}

func TestHub_RegisterReplacesPreviousConnection(t *testing.T) {
	req := require.New(t)
	hub := NewHub(slog.Default())
	first, second := fakeClient("alice", 1), fakeClient("alice", 1)

	// Given a first connection of alice
	req.Nil(hub.Register(first))

	// When alice connects again
	previous := hub.Register(second)

	// Then the first is handed back and no longer owns the identity
	req.Same(first, previous)
	req.Equal(1, hub.ConnectionCount())
	req.False(hub.Unregister(first))
	req.Equal(1, hub.ConnectionCount())
	req.True(hub.Unregister(second))
	req.Equal(0, hub.ConnectionCount())
}

func TestClient_EnqueueAfterClose(t *testing.T) {
	req := require.New(t)
	c := fakeClient("alice", 1)

	close(c.done)

	req.False(c.enqueue([]byte("late")))
	req.Empty(c.send)
}
