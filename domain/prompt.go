package domain

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContextBlock is one role-tagged entry of the conversation fed to the continuation engine.
type ContextBlock struct {
	Role    Role
	Content string
}

const openingPrompt = `You run a collaborative storytelling game for a handful of players.
Every round each player sends one short fragment. Your job is to weave all of the
fragments of a round into the next passage of a single ongoing story.

Rules:
- Keep every fragment recognizable; do not drop any of them.
- Stay consistent with the passages you already wrote.
- Write one or two paragraphs, no more than 150 words.
- Never address the players, never add titles or headings.
- Answer in the language the players write in.`

// OpeningBlock is the fixed setup block every room context starts with.
func OpeningBlock() ContextBlock {
	return ContextBlock{Role: RoleDeveloper, Content: openingPrompt}
}

// RoundBlock renders the snippets of a closed round as a user turn.
// language is a hint and may be empty.
func RoundBlock(round int, snippets []Snippet, language string) ContextBlock {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d snippets:\n\n", round)
	for _, s := range snippets {
		fmt.Fprintf(&b, "- %s: %s\n", s.DisplayName, s.Text)
	}
	b.WriteString("\nNow continue the story with this new snippets.")
	if language != "" {
		fmt.Fprintf(&b, " Write in %s.", language)
	}
	return ContextBlock{Role: RoleUser, Content: b.String()}
}
