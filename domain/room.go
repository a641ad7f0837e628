// Package domain contains core concepts of the storytelling game.
// This file defines the Room state machine and its membership and round rules.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"slices"
	"story-lab/errors"
	"strings"
	"unicode/utf8"
)

type RoomID int

type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseSnippeting
	PhaseResponse
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "WAITING"
	case PhaseSnippeting:
		return "SNIPPETING"
	case PhaseResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Round triggers carried by RoundStarted.
const (
	TriggerGameStart             = "game-start"
	TriggerAllSnippetsReceived   = "all-snippets-received"
	TriggerMemberLeft            = "member-left"
	TriggerContinuationSucceeded = "continuation-succeeded"
	TriggerContinuationFailed    = "continuation-failed"
)

type LateJoinPolicy string

const (
	LateJoinReject LateJoinPolicy = "reject"
	LateJoinAllow  LateJoinPolicy = "allow"
)

// Rules are fixed for the lifetime of a Room.
type Rules struct {
	MaxMembers       int
	MaxSnippetLength int
	LateJoin         LateJoinPolicy
}

func DefaultRules() Rules {
	return Rules{MaxMembers: 5, MaxSnippetLength: 100, LateJoin: LateJoinReject}
}

// Member is owned by its Room and destroyed when it leaves.
type Member struct {
	Identity    string
	DisplayName string
	Submitted   bool
	Snippet     string
	seq         int
}

// RoundSnapshot is a closed round, never mutated after it is appended to the history.
type RoundSnapshot struct {
	Round    int
	Snippets []Snippet
}

// RoundPayload is what a closed round hands to the continuation task.
// Context is a copy, the task may read it without holding the room lock.
type RoundPayload struct {
	Room     RoomID
	Round    int
	Snippets []Snippet
	Context  []ContextBlock
}

// Room is not safe for concurrent use: every call must go through
// the room's serialization point.
type Room struct {
	ID      RoomID
	Code    string
	rules   Rules
	phase   Phase
	members map[string]*Member
	seq     int
	pending int
	round   int
	history []RoundSnapshot
	context []ContextBlock
	story   strings.Builder
	outbox  []Envelope
}

func NewRoom(id RoomID, code string, rules Rules) *Room {
	return &Room{
		ID:      id,
		Code:    code,
		rules:   rules,
		phase:   PhaseWaiting,
		members: make(map[string]*Member),
		context: []ContextBlock{OpeningBlock()},
	}
}

// Join inserts the member, or refreshes its display name when it is already present.
// rejoined reports the second case, in which nothing about the round changes.
func (r *Room) Join(identity, displayName string) (rejoined bool, err error) {
	if m, ok := r.members[identity]; ok {
		m.DisplayName = displayName
		r.emit(MemberListUpdated{DisplayNames: r.DisplayNames()})
		return true, nil
	}
	if len(r.members) >= r.rules.MaxMembers {
		return false, errors.ErrRoomFull
	}
	if r.phase != PhaseWaiting && r.rules.LateJoin != LateJoinAllow {
		return false, errors.ErrAlreadyStarted
	}
	r.seq++
	r.members[identity] = &Member{Identity: identity, DisplayName: displayName, seq: r.seq}
	if r.phase == PhaseSnippeting {
		r.pending++
	}
	r.emit(MemberListUpdated{DisplayNames: r.DisplayNames()})
	return false, nil
}

// Leave removes the member. When the departure completes an open round
// and somebody is still in the room, the round is closed and its payload returned.
func (r *Room) Leave(identity string) (*RoundPayload, error) {
	m, ok := r.members[identity]
	if !ok {
		return nil, errors.ErrNotInRoom
	}
	wasPending := r.phase == PhaseSnippeting && !m.Submitted
	delete(r.members, identity)
	r.emit(MemberListUpdated{DisplayNames: r.DisplayNames()})

	if !wasPending {
		return nil, nil
	}
	r.pending--
	if r.pending == 0 && len(r.members) > 0 {
		return r.CloseRound(TriggerMemberLeft), nil
	}
	return nil, nil
}

// Start opens the first round. Outside WAITING it is a no-op and started is false.
func (r *Room) Start(identity string) (started bool, err error) {
	m, ok := r.members[identity]
	if !ok {
		return false, errors.ErrNotInRoom
	}
	if r.phase != PhaseWaiting {
		return false, nil
	}
	r.emit(GameStarted{Triggerer: m.DisplayName})
	r.OpenRound(TriggerGameStart)
	return true, nil
}

func (r *Room) OpenRound(trigger string) {
	r.phase = PhaseSnippeting
	for _, m := range r.members {
		m.Submitted = false
		m.Snippet = ""
	}
	r.pending = len(r.members)
	r.round++
	r.emit(RoundStarted{Trigger: trigger, Round: r.round})
}

// Submit records the snippet. The first submission of a member in a round
// decrements the pending count, later ones only overwrite the text.
// A non-nil payload means the round just closed.
func (r *Room) Submit(identity, text string) (*RoundPayload, error) {
	m, ok := r.members[identity]
	if !ok {
		return nil, errors.ErrNotInRoom
	}
	if r.phase != PhaseSnippeting {
		return nil, errors.ErrWrongPhase
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.ErrEmptySnippet
	}
	if utf8.RuneCountInString(text) > r.rules.MaxSnippetLength {
		return nil, errors.ErrTooLong
	}

	m.Snippet = text
	if !m.Submitted {
		m.Submitted = true
		r.pending--
	}
	r.emit(SnippetReceived{DisplayName: m.DisplayName})

	if r.pending == 0 {
		return r.CloseRound(TriggerAllSnippetsReceived), nil
	}
	return nil, nil
}

// CloseRound freezes the current round into the history and moves to RESPONSE.
func (r *Room) CloseRound(trigger string) *RoundPayload {
	r.phase = PhaseResponse
	snippets := make([]Snippet, 0, len(r.members))
	for _, m := range r.orderedMembers() {
		snippets = append(snippets, Snippet{DisplayName: m.DisplayName, Text: m.Snippet})
	}
	r.history = append(r.history, RoundSnapshot{Round: r.round, Snippets: snippets})
	r.emit(RoundClosed{Round: r.round, Trigger: trigger, Snippets: slices.Clone(snippets)})

	return &RoundPayload{
		Room:     r.ID,
		Round:    r.round,
		Snippets: slices.Clone(snippets),
		Context:  slices.Clone(r.context),
	}
}

// AppendPrompt adds the user turn of the closed round to the context.
// It stays there whatever the engine answers.
func (r *Room) AppendPrompt(round int, prompt ContextBlock) error {
	if r.phase != PhaseResponse || r.round != round {
		return errors.ErrStaleRound
	}
	r.context = append(r.context, prompt)
	return nil
}

// ApplyContinuation records a successful continuation for the given round
// and opens the next one.
func (r *Room) ApplyContinuation(round int, reply, mediaURL string) error {
	if r.phase != PhaseResponse || r.round != round {
		return errors.ErrStaleRound
	}
	r.context = append(r.context, ContextBlock{Role: RoleAssistant, Content: reply})
	r.story.WriteString(reply)
	r.story.WriteString("\n")
	r.emit(StoryContinued{Text: reply, MediaURL: mediaURL})
	r.OpenRound(TriggerContinuationSucceeded)
	return nil
}

// FailContinuation notifies the room and restarts the round.
func (r *Room) FailContinuation(round int, message string) error {
	if r.phase != PhaseResponse || r.round != round {
		return errors.ErrStaleRound
	}
	r.emit(ErrorNotice{Message: message})
	r.OpenRound(TriggerContinuationFailed)
	return nil
}

func (r *Room) Phase() Phase     { return r.phase }
func (r *Room) Round() int       { return r.round }
func (r *Room) Pending() int     { return r.pending }
func (r *Room) MemberCount() int { return len(r.members) }
func (r *Room) IsEmpty() bool    { return len(r.members) == 0 }
func (r *Room) Story() string    { return r.story.String() }
func (r *Room) Rules() Rules     { return r.rules }
func (r *Room) HasMember(id string) bool {
	_, ok := r.members[id]
	return ok
}

func (r *Room) Member(identity string) (Member, bool) {
	m, ok := r.members[identity]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

func (r *Room) History() []RoundSnapshot {
	return slices.Clone(r.history)
}

func (r *Room) Context() []ContextBlock {
	return slices.Clone(r.context)
}

// DisplayNames lists members in join order.
func (r *Room) DisplayNames() []string {
	names := make([]string, 0, len(r.members))
	for _, m := range r.orderedMembers() {
		names = append(names, m.DisplayName)
	}
	return names
}

// Identities lists members in join order.
func (r *Room) Identities() []string {
	ids := make([]string, 0, len(r.members))
	for _, m := range r.orderedMembers() {
		ids = append(ids, m.Identity)
	}
	return ids
}

// FlushEvents returns and clears the pending outbox.
func (r *Room) FlushEvents() []Envelope {
	events := r.outbox
	r.outbox = nil
	return events
}

// emit snapshots the recipients at emission time, so a member who left
// before the event is delivered does not receive it.
func (r *Room) emit(e Event) {
	r.outbox = append(r.outbox, Envelope{Room: r.ID, Recipients: r.Identities(), Event: e})
}

func (r *Room) orderedMembers() []*Member {
	members := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	slices.SortFunc(members, func(a, b *Member) int { return a.seq - b.seq })
	return members
}
