package models

import (
	"time"

	"github.com/google/uuid"
)

// StudentProfile is the slice of the auth collaborator's profile record the
// duel engine reads: the grade drives question sourcing filters.
type StudentProfile struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Grade     int       `json:"grade"`
}

// PlayerState is one participant's in-memory game state, held independently
// by each peer's session controller and mutated only by folding channel
// events.
type PlayerState struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	AvatarURL         string     `json:"avatar_url,omitempty"`
	Score             int        `json:"score"`
	CurrentQuestion   int        `json:"current_question"`
	Answered          bool       `json:"answered"`
	Ready             bool       `json:"ready"`
	Streak            int        `json:"streak"`
	LastAnswerCorrect *bool      `json:"last_answer_correct,omitempty"`
	LastAnswerTimeMs  int        `json:"last_answer_time_ms,omitempty"`
	JoinedAt          *time.Time `json:"joined_at,omitempty"`
}
