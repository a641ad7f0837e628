package runtime

import (
	"context"
	stderrors "errors"
	"log/slog"
	"story-lab/domain"
	"story-lab/errors"
	"story-lab/mocks"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testRoom = domain.RoomID(1)

type testHarness struct {
	coordinator *Coordinator
	registry    *Registry
	store       *mocks.MockRoomStore
	engine      *mocks.MockContinuationEngine
	mood        *mocks.MockMoodLookup
	events      chan domain.Envelope
	commands    chan domain.Command
}

func newHarness(t *testing.T, censor Censor) *testHarness {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	h := &testHarness{
		store:    mocks.NewMockRoomStore(ctrl),
		engine:   mocks.NewMockContinuationEngine(ctrl),
		mood:     mocks.NewMockMoodLookup(ctrl),
		events:   make(chan domain.Envelope, 1024),
		commands: make(chan domain.Command, 1024),
	}
	h.store.EXPECT().Get(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, id domain.RoomID) (domain.RoomRecord, error) {
			if id > 10 {
				return domain.RoomRecord{}, errors.ErrRoomNotFound
			}
			return domain.RoomRecord{ID: id, Code: "ROOM0" + string(rune('0'+id%10)), Status: domain.StatusLobby}, nil
		}).AnyTimes()

	h.registry = NewRegistry(log, h.store, domain.DefaultRules())
	h.coordinator = NewCoordinator(log, h.registry, h.engine, h.mood, censor, nil, h.events, h.commands,
		CoordinatorConfig{
			ContinuationTimeout: 100 * time.Millisecond,
			MoodTimeout:         50 * time.Millisecond,
			PublishTimeout:      10 * time.Millisecond,
		})
	return h
}

func (h *testHarness) joinAll(t *testing.T, identities ...string) {
	t.Helper()
	for _, id := range identities {
		_, err := h.coordinator.Join(context.Background(), id, strings.ToUpper(id), testRoom)
		require.NoError(t, err)
	}
}

func (h *testHarness) drainEvents() []domain.Envelope {
	var envs []domain.Envelope
	for {
		select {
		case env := <-h.events:
			envs = append(envs, env)
		default:
			return envs
		}
	}
}

func (h *testHarness) drainCommands() []domain.Command {
	var cmds []domain.Command
	for {
		select {
		case cmd := <-h.commands:
			cmds = append(cmds, cmd)
		default:
			return cmds
		}
	}
}

func names(envs []domain.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event.Name())
	}
	return out
}

func TestCoordinator_Join_UnknownRoom(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)

	_, err := h.coordinator.Join(context.Background(), "alice", "Alice", 42)

	req.ErrorIs(err, errors.ErrRoomNotFound)
	req.Equal(0, h.registry.ActiveRooms())
	req.NotContains(h.registry.identities, "alice")
}

func TestCoordinator_Join_AckAndDurableWrite(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)

	ack, err := h.coordinator.Join(context.Background(), "alice", "Alice", testRoom)
	req.NoError(err)
	req.Equal(testRoom, ack.Room)
	req.Equal([]string{"Alice"}, ack.Members)
	req.Equal(domain.PhaseWaiting, ack.Phase)

	// Joining again is idempotent and writes nothing
	_, err = h.coordinator.Join(context.Background(), "alice", "Alice", testRoom)
	req.NoError(err)

	req.Equal([]domain.Command{domain.AddParticipantCommand{Room: testRoom, Identity: "alice"}}, h.drainCommands())
	req.Equal([]string{"member_list_update", "member_list_update"}, names(h.drainEvents()))
}

func TestCoordinator_Join_AnotherRoomIsRejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	h.joinAll(t, "alice")

	_, err := h.coordinator.Join(context.Background(), "alice", "Alice", 2)

	// Then the second room does not stay active without members
	req.ErrorIs(err, errors.ErrAlreadyInRoom)
	req.Equal(1, h.registry.ActiveRooms())
	_, active := h.registry.lookup(2)
	req.False(active)
}

func TestCoordinator_Join_ConcurrentCapacity(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	joined, full := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.coordinator.Join(context.Background(), "player-"+string(rune('a'+i)), "P", testRoom)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case stderrors.Is(err, errors.ErrRoomFull):
				full++
			}
		}(i)
	}
	wg.Wait()

	req.Equal(5, joined)
	req.Equal(15, full)
	view, ok := h.coordinator.Inspect(testRoom)
	req.True(ok)
	req.Len(view.Members, 5)
}

func TestCoordinator_NotInRoom(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()

	req.ErrorIs(h.coordinator.StartGame(ctx, "ghost"), errors.ErrNotInRoom)
	req.ErrorIs(h.coordinator.Submit(ctx, "ghost", "boo"), errors.ErrNotInRoom)
	req.ErrorIs(h.coordinator.Leave(ctx, "ghost"), errors.ErrNotInRoom)
}

func TestCoordinator_Scenario_ContinuationSucceeds(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()

	// Given three members and a started game
	h.joinAll(t, "a", "b", "c")
	req.NoError(h.coordinator.StartGame(ctx, "a"))
	view, _ := h.coordinator.Inspect(testRoom)
	req.Equal(domain.PhaseSnippeting, view.Phase)
	req.Equal(1, view.Round)
	req.Equal(3, view.Pending)

	// Given the engine and the mood lookup answer
	h.engine.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, blocks []domain.ContextBlock) (string, error) {
			req.Len(blocks, 2)
			req.Equal(domain.RoleDeveloper, blocks[0].Role)
			req.Contains(blocks[1].Content, "Round 1 snippets:")
			req.Contains(blocks[1].Content, "- B: a badger found a key")
			return "  A badger found the key to the moon.  ", nil
		}).Times(1)
	h.engine.EXPECT().ClassifyMood(gomock.Any(), "A badger found the key to the moon.").Return([]string{"mysterious"}, nil)
	h.mood.EXPECT().FindMedia(gomock.Any(), []string{"mysterious"}).Return("https://media/moon.mp3", nil)

	// When the members submit, one of them too long first
	req.NoError(h.coordinator.Submit(ctx, "a", "Once upon a time"))
	req.NoError(h.coordinator.Submit(ctx, "b", "a badger found a key"))
	req.ErrorIs(h.coordinator.Submit(ctx, "c", strings.Repeat("x", 101)), errors.ErrTooLong)
	view, _ = h.coordinator.Inspect(testRoom)
	req.Equal(1, view.Pending)
	req.NoError(h.coordinator.Submit(ctx, "c", strings.Repeat("y", 80)))
	h.coordinator.Wait()

	// Then the next round is open with the story extended
	view, ok := h.coordinator.Inspect(testRoom)
	req.True(ok)
	req.Equal(domain.PhaseSnippeting, view.Phase)
	req.Equal(2, view.Round)
	req.Equal(3, view.Pending)
	req.Len(view.History, 1)
	req.Equal("A badger found the key to the moon.\n", view.Story)

	// And the events kept their order
	events := h.drainEvents()
	req.Equal([]string{
		"member_list_update", "member_list_update", "member_list_update",
		"game_started", "round_started",
		"snippet_received", "snippet_received", "snippet_received",
		"round_closed", "story_continued", "round_started",
	}, names(events))
	req.Equal(domain.StoryContinued{Text: "A badger found the key to the moon.", MediaURL: "https://media/moon.mp3"}, events[9].Event)
	req.Equal(domain.RoundStarted{Trigger: domain.TriggerContinuationSucceeded, Round: 2}, events[10].Event)

	// And the durable record follows
	commands := h.drainCommands()
	req.Contains(commands, domain.Command(domain.SetStatusCommand{Room: testRoom, Status: domain.StatusInProgress}))
	req.Contains(commands, domain.Command(domain.AppendStoryCommand{Room: testRoom, Text: "A badger found the key to the moon."}))
}

func TestCoordinator_Scenario_ContinuationTimesOut(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()
	h.joinAll(t, "a", "b", "c")
	req.NoError(h.coordinator.StartGame(ctx, "a"))

	// Given an engine slower than the timeout
	h.engine.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ []domain.ContextBlock) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}).Times(1)

	// When the round closes
	for _, id := range []string{"a", "b", "c"} {
		req.NoError(h.coordinator.Submit(ctx, id, "snippet of "+id))
	}
	h.coordinator.Wait()

	// Then the round restarts
	view, _ := h.coordinator.Inspect(testRoom)
	req.Equal(domain.PhaseSnippeting, view.Phase)
	req.Equal(2, view.Round)
	req.Equal(3, view.Pending)
	req.Len(view.History, 1)
	req.Equal(1, view.History[0].Round)
	req.Empty(view.Story)

	events := h.drainEvents()
	last := events[len(events)-2:]
	req.Equal("error", last[0].Event.Name())
	req.Equal(domain.RoundStarted{Trigger: domain.TriggerContinuationFailed, Round: 2}, last[1].Event)
}

func TestCoordinator_LastMemberLeavesDuringSnippeting(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()
	h.joinAll(t, "a")
	req.NoError(h.coordinator.StartGame(ctx, "a"))
	h.drainEvents()
	h.drainCommands()

	// When the only member disconnects without submitting
	req.NoError(h.coordinator.Leave(ctx, "a"))

	// Then the room is evicted without closing the round
	req.Equal(0, h.registry.ActiveRooms())
	req.NotContains(names(h.drainEvents()), "round_closed")
	req.Equal([]domain.Command{
		domain.RemoveParticipantCommand{Room: testRoom, Identity: "a"},
		domain.SetStatusCommand{Room: testRoom, Status: domain.StatusLobby},
	}, h.drainCommands())

	// And a new join hydrates a fresh room
	ack, err := h.coordinator.Join(ctx, "b", "B", testRoom)
	req.NoError(err)
	req.Equal(domain.PhaseWaiting, ack.Phase)
	req.Equal(0, ack.Round)
	view, _ := h.coordinator.Inspect(testRoom)
	req.Empty(view.History)
}

func TestCoordinator_LeaveClosesRoundForOthers(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()
	h.joinAll(t, "a", "b")
	req.NoError(h.coordinator.StartGame(ctx, "a"))
	req.NoError(h.coordinator.Submit(ctx, "a", "alone now"))

	h.engine.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("", errors.ErrEngineFailure)

	req.NoError(h.coordinator.Leave(ctx, "b"))
	h.coordinator.Wait()

	view, ok := h.coordinator.Inspect(testRoom)
	req.True(ok)
	req.Len(view.History, 1)
	req.Equal([]domain.Snippet{{DisplayName: "A", Text: "alone now"}}, view.History[0].Snippets)
	req.Equal(2, view.Round)
	req.Equal(1, view.Pending)
}

func TestCoordinator_EveryoneLeavesDuringContinuation(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()
	h.joinAll(t, "a", "b")
	req.NoError(h.coordinator.StartGame(ctx, "a"))

	// Given an engine held until everybody left
	release := make(chan struct{})
	h.engine.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, []domain.ContextBlock) (string, error) {
			<-release
			return "Too late.", nil
		})
	h.engine.EXPECT().ClassifyMood(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	req.NoError(h.coordinator.Submit(ctx, "a", "one"))
	req.NoError(h.coordinator.Submit(ctx, "b", "two"))

	// When both members leave while the engine is working
	req.NoError(h.coordinator.Leave(ctx, "a"))
	req.NoError(h.coordinator.Leave(ctx, "b"))
	req.Equal(0, h.registry.ActiveRooms())
	close(release)
	h.coordinator.Wait()

	// Then nobody hears it but the durable story keeps the passage
	req.NotContains(names(h.drainEvents()), "story_continued")
	req.Contains(h.drainCommands(), domain.Command(domain.AppendStoryCommand{Room: testRoom, Text: "Too late."}))
	_, ok := h.coordinator.Inspect(testRoom)
	req.False(ok)
}

func TestCoordinator_FailedRoundStaysInContext(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()
	h.joinAll(t, "a", "b")
	req.NoError(h.coordinator.StartGame(ctx, "a"))

	// Given an engine failing on the first round and answering the second
	var captured []domain.ContextBlock
	gomock.InOrder(
		h.engine.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("", errors.ErrEngineFailure),
		h.engine.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, blocks []domain.ContextBlock) (string, error) {
				captured = blocks
				return "The lighthouse went dark.", nil
			}),
	)
	h.engine.EXPECT().ClassifyMood(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	// When both rounds close
	req.NoError(h.coordinator.Submit(ctx, "a", "a lighthouse"))
	req.NoError(h.coordinator.Submit(ctx, "b", "a storm"))
	h.coordinator.Wait()
	req.NoError(h.coordinator.Submit(ctx, "a", "a keeper"))
	req.NoError(h.coordinator.Submit(ctx, "b", "a lantern"))
	h.coordinator.Wait()

	// Then the second call still carries the snippets of the failed round
	req.Len(captured, 3)
	req.Equal(domain.RoleDeveloper, captured[0].Role)
	req.Equal(domain.RoleUser, captured[1].Role)
	req.Contains(captured[1].Content, "Round 1 snippets:")
	req.Contains(captured[1].Content, "- B: a storm")
	req.Contains(captured[2].Content, "Round 2 snippets:")

	view, _ := h.coordinator.Inspect(testRoom)
	req.Equal(3, view.Round)
	req.Equal("The lighthouse went dark.\n", view.Story)
}

func TestCoordinator_NoMoodLookupSkipsClassification(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	h.coordinator.mood = nil
	ctx := context.Background()
	h.joinAll(t, "a")
	req.NoError(h.coordinator.StartGame(ctx, "a"))

	// Given no mood lookup, ClassifyMood is never expected
	h.engine.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("Snow fell.", nil)

	req.NoError(h.coordinator.Submit(ctx, "a", "winter"))
	h.coordinator.Wait()

	events := h.drainEvents()
	req.Equal(domain.StoryContinued{Text: "Snow fell."}, events[len(events)-2].Event)
}

func TestCoordinator_JoinByCode(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.EXPECT().FindByCode(gomock.Any(), "room01").Return(domain.RoomRecord{ID: testRoom, Code: "ROOM01"}, nil)
	h.store.EXPECT().FindByCode(gomock.Any(), "ZZZZZZ").Return(domain.RoomRecord{}, errors.ErrRoomNotFound)

	// When a player joins with the code
	ack, err := h.coordinator.JoinByCode(ctx, "alice", "Alice", "room01")

	// Then they land in the room it names
	req.NoError(err)
	req.Equal(testRoom, ack.Room)
	req.Equal([]string{"Alice"}, ack.Members)

	// And an unknown code is not found
	_, err = h.coordinator.JoinByCode(ctx, "bob", "Bob", "ZZZZZZ")
	req.ErrorIs(err, errors.ErrRoomNotFound)
	req.NotContains(h.registry.identities, "bob")
}

func TestCoordinator_MoodFailureIsIgnored(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()
	h.joinAll(t, "a")
	req.NoError(h.coordinator.StartGame(ctx, "a"))

	h.engine.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("It rained.", nil)
	h.engine.EXPECT().ClassifyMood(gomock.Any(), gomock.Any()).Return([]string{"sad"}, nil)
	h.mood.EXPECT().FindMedia(gomock.Any(), gomock.Any()).Return("", errors.ErrEngineFailure)

	req.NoError(h.coordinator.Submit(ctx, "a", "clouds"))
	h.coordinator.Wait()

	events := h.drainEvents()
	req.Contains(events[len(events)-2].Event.Name(), "story_continued")
	req.Equal(domain.StoryContinued{Text: "It rained."}, events[len(events)-2].Event)
}

func TestCoordinator_StartIsIgnoredOnceStarted(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	ctx := context.Background()
	h.joinAll(t, "a", "b")

	req.NoError(h.coordinator.StartGame(ctx, "a"))
	req.NoError(h.coordinator.StartGame(ctx, "b"))

	view, _ := h.coordinator.Inspect(testRoom)
	req.Equal(1, view.Round)
	commands := h.drainCommands()
	req.Len(commands, 3)
}

type stubCensor struct{}

func (stubCensor) Censor(text string) (string, []string) {
	if strings.Contains(text, "darn") {
		return strings.ReplaceAll(text, "darn", "****"), []string{"darn"}
	}
	return text, nil
}

func TestCoordinator_Submit_IsCensored(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, stubCensor{})
	ctx := context.Background()
	h.joinAll(t, "a", "b")
	req.NoError(h.coordinator.StartGame(ctx, "a"))

	h.engine.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("", errors.ErrEngineFailure)

	req.NoError(h.coordinator.Submit(ctx, "a", "that darn cat"))
	req.NoError(h.coordinator.Submit(ctx, "b", "a fine dog"))
	h.coordinator.Wait()

	view, _ := h.coordinator.Inspect(testRoom)
	req.Equal("that **** cat", view.History[0].Snippets[0].Text)
}
