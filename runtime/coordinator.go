package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"story-lab/ai"
	"story-lab/contract"
	"story-lab/domain"
	"story-lab/errors"
	"story-lab/observability"
	"strings"
	"sync"
	"time"
)

const continuationFailedMessage = "The storyteller lost the thread, the round starts over."

// Censor masks forbidden words and reports the ones it found.
type Censor interface {
	Censor(text string) (string, []string)
}

type CoordinatorConfig struct {
	ContinuationTimeout time.Duration
	MoodTimeout         time.Duration
	PublishTimeout      time.Duration
}

type JoinAck struct {
	Room    domain.RoomID
	Code    string
	Members []string
	Phase   domain.Phase
	Round   int
}

// RoomView is a read-only copy of an active room.
type RoomView struct {
	ID      domain.RoomID
	Code    string
	Phase   domain.Phase
	Round   int
	Pending int
	Members []string
	History []domain.RoundSnapshot
	Story   string
}

// Coordinator applies inbound player actions to the rooms of a Registry.
// Every mutation of a room happens under its session lock, outbound events
// are queued in that same critical section so each room keeps FIFO order.
// Calls to the continuation engine and mood lookup never hold a lock.
type Coordinator struct {
	log        *slog.Logger
	registry   *Registry
	engine     contract.ContinuationEngine
	mood       contract.MoodLookup
	censor     Censor
	monitoring *observability.MonitoringManager
	events     chan<- domain.Envelope
	commands   chan<- domain.Command
	config     CoordinatorConfig
	tasks      sync.WaitGroup
}

func NewCoordinator(
	log *slog.Logger,
	registry *Registry,
	engine contract.ContinuationEngine,
	mood contract.MoodLookup,
	censor Censor,
	monitoring *observability.MonitoringManager,
	events chan<- domain.Envelope,
	commands chan<- domain.Command,
	config CoordinatorConfig,
) *Coordinator {
	if monitoring == nil {
		monitoring = observability.NewMonitoringManager()
	}
	return &Coordinator{
		log:        log,
		registry:   registry,
		engine:     engine,
		mood:       mood,
		censor:     censor,
		monitoring: monitoring,
		events:     events,
		commands:   commands,
		config:     config,
	}
}

// Join adds identity to the room, activating it if needed.
func (c *Coordinator) Join(ctx context.Context, identity, displayName string, id domain.RoomID) (JoinAck, error) {
	for {
		s, err := c.registry.GetOrActivate(ctx, id)
		if err != nil {
			return JoinAck{}, err
		}
		ack, retry, err := c.join(s, identity, displayName)
		if !retry {
			return ack, err
		}
		// The room was evicted between activation and locking
		if err := ctx.Err(); err != nil {
			return JoinAck{}, err
		}
	}
}

// JoinByCode resolves the room code, then joins like Join.
func (c *Coordinator) JoinByCode(ctx context.Context, identity, displayName, code string) (JoinAck, error) {
	id, err := c.registry.Resolve(ctx, code)
	if err != nil {
		return JoinAck{}, err
	}
	return c.Join(ctx, identity, displayName, id)
}

func (c *Coordinator) join(s *session, identity, displayName string) (JoinAck, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return JoinAck{}, true, nil
	}
	room := s.room

	fresh, err := c.registry.Bind(identity, room.ID)
	if err != nil {
		c.evict(s)
		return JoinAck{}, false, err
	}
	rejoined, err := room.Join(identity, displayName)
	if err != nil {
		if fresh {
			c.registry.Unbind(identity, room.ID)
		}
		c.evict(s)
		return JoinAck{}, false, err
	}
	if !rejoined {
		c.schedule(domain.AddParticipantCommand{Room: room.ID, Identity: identity})
	}
	c.log.Debug("Member joined", "room_id", room.ID, "identity", identity, "rejoined", rejoined)
	c.publish(s)

	return JoinAck{
		Room:    room.ID,
		Code:    room.Code,
		Members: room.DisplayNames(),
		Phase:   room.Phase(),
		Round:   room.Round(),
	}, false, nil
}

// Leave removes identity from its room. A transport disconnect ends up here.
func (c *Coordinator) Leave(_ context.Context, identity string) error {
	s, err := c.sessionOf(identity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return errors.ErrNotInRoom
	}
	room := s.room

	payload, err := room.Leave(identity)
	if err != nil {
		return err
	}
	c.registry.Unbind(identity, room.ID)
	c.schedule(domain.RemoveParticipantCommand{Room: room.ID, Identity: identity})
	c.log.Debug("Member left", "room_id", room.ID, "identity", identity)

	if payload != nil {
		c.dispatchContinuation(s, payload)
	}
	c.evict(s)
	c.publish(s)
	return nil
}

// StartGame opens the first round. A start outside WAITING is ignored.
func (c *Coordinator) StartGame(_ context.Context, identity string) error {
	s, err := c.sessionOf(identity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return errors.ErrNotInRoom
	}
	room := s.room

	started, err := room.Start(identity)
	if err != nil {
		return err
	}
	if !started {
		c.log.Debug("Start ignored", "room_id", room.ID, "phase", room.Phase().String())
		return nil
	}
	c.schedule(domain.SetStatusCommand{Room: room.ID, Status: domain.StatusInProgress})
	c.log.Info("Game started", "room_id", room.ID, "identity", identity)
	c.publish(s)
	return nil
}

// Submit records the snippet of identity for the open round.
func (c *Coordinator) Submit(_ context.Context, identity, text string) error {
	s, err := c.sessionOf(identity)
	if err != nil {
		return err
	}
	if c.censor != nil {
		if censored, words := c.censor.Censor(text); len(words) > 0 {
			c.monitoring.IncrSnippetsCensored()
			c.log.Debug("Snippet censored", "identity", identity, "words", len(words))
			text = censored
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return errors.ErrNotInRoom
	}

	payload, err := s.room.Submit(identity, text)
	if err != nil {
		return err
	}
	if payload != nil {
		c.dispatchContinuation(s, payload)
	}
	c.publish(s)
	return nil
}

// Inspect returns a copy of an active room.
func (c *Coordinator) Inspect(id domain.RoomID) (RoomView, bool) {
	s, ok := c.registry.lookup(id)
	if !ok {
		return RoomView{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return RoomView{}, false
	}
	return RoomView{
		ID:      s.room.ID,
		Code:    s.room.Code,
		Phase:   s.room.Phase(),
		Round:   s.room.Round(),
		Pending: s.room.Pending(),
		Members: s.room.DisplayNames(),
		History: s.room.History(),
		Story:   s.room.Story(),
	}, true
}

// Wait blocks until every in-flight continuation task has returned.
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

func (c *Coordinator) sessionOf(identity string) (*session, error) {
	s, ok := c.registry.sessionOf(identity)
	if !ok {
		return nil, errors.ErrNotInRoom
	}
	return s, nil
}

// evict must be called with s.mu held.
func (c *Coordinator) evict(s *session) {
	if c.registry.EvictIfEmpty(s) {
		c.schedule(domain.SetStatusCommand{Room: s.room.ID, Status: domain.StatusLobby})
	}
}

// dispatchContinuation must be called with s.mu held. The round's user turn
// joins the room context before the engine is called, so a failed round is
// still part of the story the next round builds on.
func (c *Coordinator) dispatchContinuation(s *session, payload *domain.RoundPayload) {
	c.monitoring.IncrRoundsClosed()
	c.log.Info("Round closed", "room_id", payload.Room, "round", payload.Round, "snippets", len(payload.Snippets))

	texts := make([]string, 0, len(payload.Snippets))
	for _, snippet := range payload.Snippets {
		texts = append(texts, snippet.Text)
	}
	prompt := domain.RoundBlock(payload.Round, payload.Snippets, ai.DetectLanguage(strings.Join(texts, " ")))
	if err := s.room.AppendPrompt(payload.Round, prompt); err != nil {
		c.log.Warn("Round prompt discarded", "room_id", payload.Room, "round", payload.Round, "error", err)
		return
	}
	payload.Context = append(payload.Context, prompt)

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.continueStory(s, payload)
	}()
}

// continueStory runs without any lock until it applies its result.
func (c *Coordinator) continueStory(s *session, payload *domain.RoundPayload) {
	reply, err := c.generate(payload.Context)
	if err != nil {
		c.monitoring.IncrContinuationsFailed()
		c.log.Warn("Continuation failed", "room_id", payload.Room, "round", payload.Round, "error", err)
		c.applyFailure(s, payload)
		return
	}
	mediaURL := c.resolveMedia(payload.Room, reply)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		// Nobody is left to hear it, the durable story still gets the passage
		c.log.Debug("Continuation kept for evicted room", "room_id", payload.Room, "round", payload.Round)
		c.monitoring.IncrContinuationsSucceeded()
		c.schedule(domain.AppendStoryCommand{Room: payload.Room, Text: reply})
		return
	}
	if err := s.room.ApplyContinuation(payload.Round, reply, mediaURL); err != nil {
		c.log.Warn("Continuation discarded", "room_id", payload.Room, "round", payload.Round, "error", err)
		return
	}
	c.monitoring.IncrContinuationsSucceeded()
	c.schedule(domain.AppendStoryCommand{Room: payload.Room, Text: reply})
	c.publish(s)
}

func (c *Coordinator) generate(blocks []domain.ContextBlock) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ContinuationTimeout)
	defer cancel()
	reply, err := c.engine.Generate(ctx, blocks)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrEngineFailure, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: empty reply", errors.ErrEngineFailure)
	}
	return strings.TrimSpace(reply), nil
}

// resolveMedia is best-effort, any failure yields no media.
// Without a mood lookup the engine is not asked for tags at all.
func (c *Coordinator) resolveMedia(id domain.RoomID, text string) string {
	if c.mood == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.config.MoodTimeout)
	defer cancel()

	tags, err := c.engine.ClassifyMood(ctx, text)
	if err != nil || len(tags) == 0 {
		c.log.Debug("No mood tags", "room_id", id, "error", err)
		return ""
	}
	url, err := c.mood.FindMedia(ctx, tags)
	if err != nil {
		c.log.Debug("Mood lookup failed", "room_id", id, "tags", tags, "error", err)
		return ""
	}
	return url
}

func (c *Coordinator) applyFailure(s *session, payload *domain.RoundPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return
	}
	if err := s.room.FailContinuation(payload.Round, continuationFailedMessage); err != nil {
		c.log.Warn("Continuation failure discarded", "room_id", payload.Room, "round", payload.Round, "error", err)
		return
	}
	c.publish(s)
}

// publish must be called with s.mu held.
func (c *Coordinator) publish(s *session) {
	for _, env := range s.room.FlushEvents() {
		if len(env.Recipients) == 0 {
			continue
		}
		select {
		case c.events <- env:
			continue
		default:
		}
		timer := time.NewTimer(c.config.PublishTimeout)
		select {
		case c.events <- env:
		case <-timer.C:
			c.monitoring.IncrEventsDropped()
			c.log.Warn("Event buffer full, event dropped", "room_id", env.Room, "event", env.Event.Name())
		}
		timer.Stop()
	}
}

func (c *Coordinator) schedule(cmd domain.Command) {
	select {
	case c.commands <- cmd:
	default:
		c.monitoring.IncrStoreWriteFailures()
		c.log.Warn("Store buffer full, durable write dropped", "room_id", cmd.RoomID(), "command", fmt.Sprintf("%T", cmd))
	}
}
