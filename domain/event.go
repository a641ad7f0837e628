package domain

// Event is an outbound notification produced by a Room.
type Event interface {
	Name() string
}

// Envelope carries an event together with the identities that must receive it,
// captured when the event was produced.
type Envelope struct {
	Room       RoomID
	Recipients []string
	Event      Event
}

type Snippet struct {
	DisplayName string
	Text        string
}

type MemberListUpdated struct {
	DisplayNames []string
}

func (MemberListUpdated) Name() string { return "member_list_update" }

type GameStarted struct {
	Triggerer string
}

func (GameStarted) Name() string { return "game_started" }

type RoundStarted struct {
	Trigger string
	Round   int
}

func (RoundStarted) Name() string { return "round_started" }

type SnippetReceived struct {
	DisplayName string
}

func (SnippetReceived) Name() string { return "snippet_received" }

type RoundClosed struct {
	Round    int
	Trigger  string
	Snippets []Snippet
}

func (RoundClosed) Name() string { return "round_closed" }

type StoryContinued struct {
	Text     string
	MediaURL string
}

func (StoryContinued) Name() string { return "story_continued" }

type ErrorNotice struct {
	Message string
}

func (ErrorNotice) Name() string { return "error" }
