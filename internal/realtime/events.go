package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedEvent marks a wire message that failed to decode. Controllers
// drop these silently (logged at debug) rather than crash the fold.
var ErrMalformedEvent = errors.New("malformed duel event")

// EventType represents the type of duel event.
type EventType string

const (
	EventPlayerReady      EventType = "player_ready"
	EventGameStart        EventType = "game_start"
	EventQuestionAnswer   EventType = "question_answer"
	EventNextQuestion     EventType = "next_question"
	EventGameEnd          EventType = "game_end"
	EventPlayerDisconnect EventType = "player_disconnect"
)

// DuelEvent is the broadcast envelope fanned out to every channel
// subscriber, the sender included. Ephemeral: it exists only on the wire and
// in controller memory. Timestamp is the sender's emission time in Unix
// milliseconds and is used for latency display only, never for correctness.
type DuelEvent struct {
	Type      EventType       `json:"type"`
	PlayerID  uuid.UUID       `json:"playerId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// GameStartData carries the scheduled start so both peers begin the
// countdown toward the same wall-clock instant despite network jitter.
type GameStartData struct {
	StartTime int64 `json:"startTime"` // unix millis
}

// QuestionAnswerData reports one player's answer to the current question.
type QuestionAnswerData struct {
	Answer        string `json:"answer"`
	IsCorrect     bool   `json:"isCorrect"`
	QuestionIndex int    `json:"questionIndex"`
	TimeMs        int    `json:"timeMs"`
}

// NextQuestionData advances both peers to the given question.
type NextQuestionData struct {
	QuestionIndex int   `json:"questionIndex"`
	StartTime     int64 `json:"startTime"` // unix millis
}

// GameEndData carries the winner, or null for a tie.
type GameEndData struct {
	WinnerID *uuid.UUID `json:"winnerId"`
}

// NewEvent builds an envelope with the payload marshaled and the emission
// timestamp stamped.
func NewEvent(eventType EventType, playerID uuid.UUID, payload interface{}) (DuelEvent, error) {
	evt := DuelEvent{
		Type:      eventType,
		PlayerID:  playerID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return DuelEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		evt.Data = data
	}
	return evt, nil
}

// DecodeEvent parses a wire message into an envelope.
func DecodeEvent(data []byte) (DuelEvent, error) {
	var evt DuelEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return DuelEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.Type == "" {
		return DuelEvent{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return evt, nil
}

// ParseEventPayload parses event data into the appropriate payload struct.
// Unknown event types return nil, nil: the protocol tolerates envelopes it
// does not understand.
func ParseEventPayload(evt DuelEvent) (interface{}, error) {
	switch evt.Type {
	case EventGameStart:
		var payload GameStartData
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return payload, nil

	case EventQuestionAnswer:
		var payload QuestionAnswerData
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return payload, nil

	case EventNextQuestion:
		var payload NextQuestionData
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return payload, nil

	case EventGameEnd:
		var payload GameEndData
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return payload, nil

	case EventPlayerReady, EventPlayerDisconnect:
		// No payload beyond the envelope.
		return nil, nil

	default:
		return nil, nil
	}
}

// Latency is receipt time minus the embedded emission timestamp. Display
// only: clock skew between peers makes it unfit to gate anything.
func (e DuelEvent) Latency(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.Timestamp))
}
