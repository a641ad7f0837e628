package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"story-lab/contract"
	"story-lab/domain"
	"strings"

	"github.com/samber/lo"
)

const (
	completionsPath = "/v1/chat/completions"
	maxMoodTags     = 3
	moodPrompt      = "Describe the mood of the following passage with at most three single lowercase words, " +
		"separated by commas, and nothing else."
)

var _ contract.ContinuationEngine = (*ChatEngine)(nil)

// ChatEngine talks to an OpenAI compatible chat completions endpoint.
type ChatEngine struct {
	log     *slog.Logger
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewChatEngine(log *slog.Logger, client *http.Client, baseURL, apiKey, model string) *ChatEngine {
	return &ChatEngine{
		log:     log,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *ChatEngine) Generate(ctx context.Context, blocks []domain.ContextBlock) (string, error) {
	messages := lo.Map(blocks, func(b domain.ContextBlock, _ int) chatMessage {
		return chatMessage{Role: string(b.Role), Content: b.Content}
	})
	return e.complete(ctx, messages)
}

func (e *ChatEngine) ClassifyMood(ctx context.Context, text string) ([]string, error) {
	reply, err := e.complete(ctx, []chatMessage{
		{Role: string(domain.RoleDeveloper), Content: moodPrompt},
		{Role: string(domain.RoleUser), Content: text},
	})
	if err != nil {
		return nil, err
	}
	return ParseMoodTags(reply), nil
}

func (e *ChatEngine) complete(ctx context.Context, messages []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{Model: e.model, Messages: messages})
	if err != nil {
		return "", err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	response, err := e.client.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("engine returned status %d", response.StatusCode)
	}

	var decoded chatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("decode engine response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("engine error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("engine returned no choice")
	}
	e.log.Debug("Engine replied", "model", e.model, "length", len(decoded.Choices[0].Message.Content))
	return decoded.Choices[0].Message.Content, nil
}

// ParseMoodTags turns "Calm, mysterious." into ["calm" "mysterious"].
func ParseMoodTags(reply string) []string {
	fields := strings.FieldsFunc(strings.ToLower(reply), func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	tags := lo.FilterMap(fields, func(f string, _ int) (string, bool) {
		tag := strings.Trim(strings.TrimSpace(f), ".!\"'")
		return tag, tag != "" && !strings.Contains(tag, " ")
	})
	tags = lo.Uniq(tags)
	if len(tags) > maxMoodTags {
		tags = tags[:maxMoodTags]
	}
	return tags
}
