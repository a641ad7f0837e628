package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"story-lab/contract"
	"story-lab/domain"
	"story-lab/errors"
	"sync"
)

// session is the serialization point of one active room.
// evicted is set, under mu, once the room left the registry: whoever
// acquires mu afterwards must look the room up again.
type session struct {
	mu      sync.Mutex
	room    *domain.Room
	evicted bool
}

// Registry owns the active rooms and the identity -> room reverse map.
// Lock order is always session.mu then Registry.mu, never the reverse.
type Registry struct {
	mu         sync.RWMutex
	log        *slog.Logger
	store      contract.RoomStore
	rules      domain.Rules
	rooms      map[domain.RoomID]*session
	identities map[string]domain.RoomID
}

func NewRegistry(log *slog.Logger, store contract.RoomStore, rules domain.Rules) *Registry {
	return &Registry{
		log:        log,
		store:      store,
		rules:      rules,
		rooms:      make(map[domain.RoomID]*session),
		identities: make(map[string]domain.RoomID),
	}
}

// GetOrActivate returns the active room, hydrating a fresh WAITING room
// from the durable record when it is not active yet.
func (r *Registry) GetOrActivate(ctx context.Context, id domain.RoomID) (*session, error) {
	if s, ok := r.lookup(id); ok {
		return s, nil
	}

	// The store is consulted without holding the registry lock
	record, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("activate room %d: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rooms[id]; ok {
		return s, nil
	}
	s := &session{room: domain.NewRoom(record.ID, record.Code, r.rules)}
	r.rooms[id] = s
	r.log.Debug("Room activated", "room_id", id, "code", record.Code)
	return s, nil
}

// Resolve turns a human-facing room code into its identifier.
func (r *Registry) Resolve(ctx context.Context, code string) (domain.RoomID, error) {
	record, err := r.store.FindByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("resolve room code %q: %w", code, err)
	}
	return record.ID, nil
}

func (r *Registry) lookup(id domain.RoomID) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rooms[id]
	return s, ok
}

// EvictIfEmpty removes the room from the active set when it has no member left.
// The caller must hold s.mu.
func (r *Registry) EvictIfEmpty(s *session) bool {
	if s.evicted || !s.room.IsEmpty() {
		return false
	}
	r.mu.Lock()
	if current, ok := r.rooms[s.room.ID]; ok && current == s {
		delete(r.rooms, s.room.ID)
	}
	r.mu.Unlock()
	s.evicted = true
	r.log.Debug("Room evicted", "room_id", s.room.ID)
	return true
}

// Bind records identity -> room. It fails with ErrAlreadyInRoom when the
// identity is bound to another room; fresh is false when it was already bound here.
func (r *Registry) Bind(identity string, id domain.RoomID) (fresh bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.identities[identity]
	if ok && current != id {
		return false, errors.ErrAlreadyInRoom
	}
	r.identities[identity] = id
	return !ok, nil
}

// Unbind removes identity -> room if it still points at id.
func (r *Registry) Unbind(identity string, id domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.identities[identity]; ok && current == id {
		delete(r.identities, identity)
	}
}

// sessionOf resolves the active room of an identity.
func (r *Registry) sessionOf(identity string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[identity]
	if !ok {
		return nil, false
	}
	s, ok := r.rooms[id]
	return s, ok
}

func (r *Registry) ActiveRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
