package runtime

import (
	"context"
	"log/slog"
	"story-lab/domain"
	"story-lab/errors"
	"story-lab/mocks"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRegistry_GetOrActivate_HydratesOnce(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	registry := NewRegistry(slog.Default(), store, domain.DefaultRules())

	// Given a durable room
	store.EXPECT().Get(gomock.Any(), domain.RoomID(7)).
		Return(domain.RoomRecord{ID: 7, Code: "QWE123", Status: domain.StatusLobby}, nil).
		Times(1)

	// When it is activated twice
	first, err := registry.GetOrActivate(context.Background(), 7)
	req.NoError(err)
	second, err := registry.GetOrActivate(context.Background(), 7)
	req.NoError(err)

	// Then the store is consulted once and the same WAITING room is returned
	req.Same(first, second)
	req.Equal("QWE123", first.room.Code)
	req.Equal(domain.PhaseWaiting, first.room.Phase())
	req.Equal(1, registry.ActiveRooms())
}

func TestRegistry_GetOrActivate_NotFound(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	registry := NewRegistry(slog.Default(), store, domain.DefaultRules())

	store.EXPECT().Get(gomock.Any(), domain.RoomID(9)).Return(domain.RoomRecord{}, errors.ErrRoomNotFound)

	_, err := registry.GetOrActivate(context.Background(), 9)

	req.ErrorIs(err, errors.ErrRoomNotFound)
	req.Equal(0, registry.ActiveRooms())
}

func TestRegistry_EvictIfEmpty(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	registry := NewRegistry(slog.Default(), store, domain.DefaultRules())
	store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(domain.RoomRecord{ID: 1, Code: "AAAAAA"}, nil)

	s, err := registry.GetOrActivate(context.Background(), 1)
	req.NoError(err)

	s.mu.Lock()
	// Given a member in the room, nothing happens
	_, err = s.room.Join("alice", "Alice")
	req.NoError(err)
	req.False(registry.EvictIfEmpty(s))

	// When the member leaves, the room goes away
	_, err = s.room.Leave("alice")
	req.NoError(err)
	req.True(registry.EvictIfEmpty(s))
	req.True(s.evicted)

	// And a second eviction is a no-op
	req.False(registry.EvictIfEmpty(s))
	s.mu.Unlock()

	req.Equal(0, registry.ActiveRooms())
	_, ok := registry.lookup(1)
	req.False(ok)
}

func TestRegistry_Bind(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil, domain.DefaultRules())

	fresh, err := registry.Bind("alice", 1)
	req.NoError(err)
	req.True(fresh)

	fresh, err = registry.Bind("alice", 1)
	req.NoError(err)
	req.False(fresh)

	_, err = registry.Bind("alice", 2)
	req.ErrorIs(err, errors.ErrAlreadyInRoom)

	// Unbinding from the wrong room keeps the binding
	registry.Unbind("alice", 2)
	req.Equal(map[string]domain.RoomID{"alice": 1}, registry.identities)

	registry.Unbind("alice", 1)
	req.Empty(registry.identities)
}

func TestRegistry_Resolve(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockRoomStore(ctrl)
	registry := NewRegistry(slog.Default(), store, domain.DefaultRules())

	store.EXPECT().FindByCode(gomock.Any(), "qwe123").Return(domain.RoomRecord{ID: 7, Code: "QWE123"}, nil)
	store.EXPECT().FindByCode(gomock.Any(), "NOPE00").Return(domain.RoomRecord{}, errors.ErrRoomNotFound)

	id, err := registry.Resolve(context.Background(), "qwe123")
	req.NoError(err)
	req.Equal(domain.RoomID(7), id)

	_, err = registry.Resolve(context.Background(), "NOPE00")
	req.ErrorIs(err, errors.ErrRoomNotFound)
	req.Equal(0, registry.ActiveRooms())
}
