package ai

import (
	"context"
	"fmt"
	"sort"
	"story-lab/contract"
	"story-lab/domain"
	"strings"

	"github.com/samber/lo"
)

var _ contract.ContinuationEngine = LocalEngine{}

var moodLexicon = map[string][]string{
	"dark":       {"night", "shadow", "dead", "blood", "fear", "ghost", "nuit", "peur"},
	"joyful":     {"laugh", "sun", "party", "happy", "dance", "joie", "soleil"},
	"mysterious": {"key", "door", "secret", "strange", "map", "clé", "porte"},
	"epic":       {"dragon", "sword", "battle", "king", "queen", "war", "épée"},
}

// LocalEngine stitches the snippets together without any remote call.
// It is used when no engine endpoint is configured.
type LocalEngine struct{}

func (LocalEngine) Generate(ctx context.Context, blocks []domain.ContextBlock) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(blocks) == 0 || blocks[len(blocks)-1].Role != domain.RoleUser {
		return "", fmt.Errorf("no round to continue")
	}
	last := blocks[len(blocks)-1]
	var sentences []string
	for _, line := range strings.Split(last.Content, "\n") {
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		_, text, found := strings.Cut(strings.TrimPrefix(line, "- "), ": ")
		if !found {
			continue
		}
		sentences = append(sentences, strings.TrimRight(strings.TrimSpace(text), "."))
	}
	if len(sentences) == 0 {
		return "", fmt.Errorf("no snippet to continue")
	}
	return "And so, " + strings.Join(sentences, ", then ") + ".", nil
}

func (LocalEngine) ClassifyMood(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)
	var tags []string
	for mood, words := range moodLexicon {
		if lo.SomeBy(words, func(w string) bool { return strings.Contains(lower, w) }) {
			tags = append(tags, mood)
		}
	}
	sort.Strings(tags)
	if len(tags) > maxMoodTags {
		tags = tags[:maxMoodTags]
	}
	return tags, nil
}
