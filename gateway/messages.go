package gateway

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"story-lab/domain"
	"story-lab/errors"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New()

// Inbound message types.
const (
	TypeJoinRoom      = "join_room"
	TypeStartGame     = "start_game"
	TypeSubmitSnippet = "submit_snippet"
)

// Outbound unicast message types, broadcasts use domain.Event.Name().
const (
	TypeJoinAck   = "join_ack"
	TypeSubmitAck = "submit_ack"
	TypeError     = "error"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the single wire shape in both directions.
type Envelope struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRoomPayload names the room by identifier or by its six-character code, not both.
type JoinRoomPayload struct {
	RoomID int    `json:"room_id,omitempty" validate:"omitempty,gt=0"`
	Code   string `json:"code,omitempty" validate:"omitempty,len=6,alphanum"`
}

type StartGamePayload struct{}

type SubmitSnippetPayload struct {
	Text string `json:"text"`
}

// DecodeInbound parses and validates a client frame once, at the boundary.
// It returns one of the *Payload types.
func DecodeInbound(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}

	var payload any
	switch env.Type {
	case TypeJoinRoom:
		payload = &JoinRoomPayload{}
	case TypeStartGame:
		return StartGamePayload{}, nil
	case TypeSubmitSnippet:
		payload = &SubmitSnippetPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, env.Type)
	}

	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", errors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}

	switch p := payload.(type) {
	case *JoinRoomPayload:
		if (p.RoomID == 0) == (p.Code == "") {
			return nil, fmt.Errorf("%w: exactly one of room_id and code is required", errors.ErrInvalidPayload)
		}
		return *p, nil
	case *SubmitSnippetPayload:
		return *p, nil
	}
	return nil, errors.ErrUnknownEvent
}

type MemberListPayload struct {
	DisplayNames []string `json:"display_names"`
}

type GameStartedPayload struct {
	Triggerer string `json:"triggerer"`
}

type RoundStartedPayload struct {
	Trigger string `json:"trigger"`
	Round   int    `json:"round"`
}

type SnippetReceivedPayload struct {
	DisplayName string `json:"display_name"`
}

type SnippetPayload struct {
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

type RoundClosedPayload struct {
	Round    int              `json:"round"`
	Snippets []SnippetPayload `json:"snippets"`
}

type StoryContinuedPayload struct {
	Text     string `json:"text"`
	MediaURL string `json:"media_url,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type JoinAckPayload struct {
	Status  string   `json:"status"`
	RoomID  int      `json:"room_id"`
	Code    string   `json:"code,omitempty"`
	Members []string `json:"members,omitempty"`
	Phase   string   `json:"phase,omitempty"`
	Round   int      `json:"round"`
	Error   string   `json:"error,omitempty"`
}

type SubmitAckPayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// EncodeEvent renders a room event as a wire frame.
func EncodeEvent(e domain.Event) ([]byte, error) {
	var payload any
	switch evt := e.(type) {
	case domain.MemberListUpdated:
		payload = MemberListPayload{DisplayNames: evt.DisplayNames}
	case domain.GameStarted:
		payload = GameStartedPayload{Triggerer: evt.Triggerer}
	case domain.RoundStarted:
		payload = RoundStartedPayload{Trigger: evt.Trigger, Round: evt.Round}
	case domain.SnippetReceived:
		payload = SnippetReceivedPayload{DisplayName: evt.DisplayName}
	case domain.RoundClosed:
		payload = RoundClosedPayload{
			Round: evt.Round,
			Snippets: lo.Map(evt.Snippets, func(s domain.Snippet, _ int) SnippetPayload {
				return SnippetPayload{DisplayName: s.DisplayName, Text: s.Text}
			}),
		}
	case domain.StoryContinued:
		payload = StoryContinuedPayload{Text: evt.Text, MediaURL: evt.MediaURL}
	case domain.ErrorNotice:
		payload = ErrorPayload{Message: evt.Message}
	default:
		return nil, fmt.Errorf("%w: %T", errors.ErrUnknownEvent, e)
	}
	return encode(e.Name(), payload)
}

func encode(messageType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: messageType, Payload: raw})
}

var errorCodes = []struct {
	err  error
	code string
}{
	{errors.ErrRoomNotFound, "room_not_found"},
	{errors.ErrRoomFull, "room_full"},
	{errors.ErrWrongPhase, "wrong_phase"},
	{errors.ErrTooLong, "too_long"},
	{errors.ErrEmptySnippet, "empty_snippet"},
	{errors.ErrNotAuthenticated, "not_authenticated"},
	{errors.ErrAlreadyInRoom, "already_in_room"},
	{errors.ErrAlreadyStarted, "already_started"},
	{errors.ErrNotInRoom, "not_in_room"},
	{errors.ErrRateLimited, "rate_limited"},
	{errors.ErrInvalidPayload, "invalid_payload"},
	{errors.ErrUnknownEvent, "unknown_event"},
}

// ErrorCode maps an error to its stable wire code.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if stderrors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
