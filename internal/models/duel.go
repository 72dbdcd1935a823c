package models

import (
	"time"

	"github.com/google/uuid"
)

// DuelStatus defines the lifecycle status of a duel.
type DuelStatus string

const (
	DuelStatusPending  DuelStatus = "pending"
	DuelStatusActive   DuelStatus = "active"
	DuelStatusFinished DuelStatus = "finished"
)

// Duel represents one scheduled 1v1 timed quiz session.
//
// Once Status becomes active the question list and answer key are frozen:
// provisioning is idempotent and never re-selects.
type Duel struct {
	ID              uuid.UUID  `json:"id"`
	ChallengerID    uuid.UUID  `json:"challenger_id"`
	OpponentID      uuid.UUID  `json:"opponent_id"`
	Status          DuelStatus `json:"status"`
	Subject         string     `json:"subject,omitempty"`
	QuestionCount   int        `json:"question_count"`
	Questions       []Question `json:"questions,omitempty"`
	AnswerKey       []AnswerKeyEntry `json:"answer_key,omitempty"`
	CurrentQuestion int        `json:"current_question"`
	ChallengerScore int        `json:"challenger_score"`
	OpponentScore   int        `json:"opponent_score"`
	WinnerID        *uuid.UUID `json:"winner_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasParticipant reports whether the given player is one of the duel's two
// participants.
func (d *Duel) HasParticipant(playerID uuid.UUID) bool {
	return d.ChallengerID == playerID || d.OpponentID == playerID
}

// Provisioned reports whether a question set has already been frozen for this
// duel.
func (d *Duel) Provisioned() bool {
	return d.Status == DuelStatusActive && len(d.Questions) > 0
}

// DuelAnswer is one persisted answer row, keyed by duel + player + question
// index. Upserted, so a replayed submission never double-counts.
type DuelAnswer struct {
	DuelID        uuid.UUID `json:"duel_id"`
	PlayerID      uuid.UUID `json:"player_id"`
	QuestionIndex int       `json:"question_index"`
	QuestionID    string    `json:"question_id"`
	Answer        string    `json:"answer"`
	IsCorrect     bool      `json:"is_correct"`
	TimeTakenMs   int       `json:"time_taken_ms"`
	PointsEarned  int       `json:"points_earned"`
	StreakBonus   int       `json:"streak_bonus"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// DuelStats aggregates a player's lifetime duel record.
type DuelStats struct {
	PlayerID          uuid.UUID `json:"player_id"`
	TotalDuels        int       `json:"total_duels"`
	Wins              int       `json:"wins"`
	Losses            int       `json:"losses"`
	Draws             int       `json:"draws"`
	WinStreak         int       `json:"win_streak"`
	MaxWinStreak      int       `json:"max_win_streak"`
	TotalPointsEarned int       `json:"total_points_earned"`
}
