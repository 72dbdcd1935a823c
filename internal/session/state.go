package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/sakirkocak/teknokul-duel/internal/models"
)

// Phase is the controller's lifecycle phase. Transitions only move forward;
// Finished is terminal.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhasePlaying   Phase = "playing"
	PhaseFinished  Phase = "finished"
)

// GameState is one peer's view of the duel, produced purely by folding
// channel events. Every peer folds the same event stream, so the views agree
// up to delivery timing.
type GameState struct {
	Phase             Phase                          `json:"phase"`
	CurrentQuestion   int                            `json:"current_question"`
	StartAt           time.Time                      `json:"start_at,omitempty"`
	QuestionStartAt   time.Time                      `json:"question_start_at,omitempty"`
	Players           map[uuid.UUID]models.PlayerState `json:"players"`
	WinnerID          *uuid.UUID                     `json:"winner_id,omitempty"`
	OpponentConnected bool                           `json:"opponent_connected"`

	// LastEventLatency is receipt minus emission of the most recent event.
	// Diagnostic only.
	LastEventLatency time.Duration `json:"last_event_latency_ms,omitempty"`
}

func (s *GameState) clone() GameState {
	out := *s
	out.Players = make(map[uuid.UUID]models.PlayerState, len(s.Players))
	for id, p := range s.Players {
		out.Players[id] = p
	}
	if s.WinnerID != nil {
		w := *s.WinnerID
		out.WinnerID = &w
	}
	return out
}

func (s *GameState) player(id uuid.UUID) models.PlayerState {
	return s.Players[id]
}

func (s *GameState) setPlayer(p models.PlayerState) {
	s.Players[p.ID] = p
}

// bothReady reports whether exactly two players exist and both marked ready.
func (s *GameState) bothReady() bool {
	if len(s.Players) != 2 {
		return false
	}
	for _, p := range s.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// bothAnswered reports whether both players answered the current question.
func (s *GameState) bothAnswered() bool {
	if len(s.Players) != 2 {
		return false
	}
	for _, p := range s.Players {
		if !p.Answered {
			return false
		}
	}
	return true
}
