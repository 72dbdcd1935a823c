package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Duel is a row of the duels table. Questions and AnswerKey are JSONB and
// stay NULL until provisioning freezes a set.
type Duel struct {
	ID              uuid.UUID
	ChallengerID    uuid.UUID
	OpponentID      uuid.UUID
	Status          string
	Subject         sql.NullString
	QuestionCount   int32
	Questions       pqtype.NullRawMessage
	AnswerKey       pqtype.NullRawMessage
	CurrentQuestion int32
	ChallengerScore int32
	OpponentScore   int32
	WinnerID        uuid.NullUUID
	StartedAt       sql.NullTime
	CompletedAt     sql.NullTime
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DuelAnswer is a row of the duel_answers table.
type DuelAnswer struct {
	DuelID        uuid.UUID
	PlayerID      uuid.UUID
	QuestionIndex int32
	QuestionID    string
	Answer        string
	IsCorrect     bool
	TimeTakenMs   int32
	PointsEarned  int32
	StreakBonus   int32
	AnsweredAt    time.Time
}

// DuelStat is a row of the duel_stats table.
type DuelStat struct {
	PlayerID          uuid.UUID
	TotalDuels        int32
	Wins              int32
	Losses            int32
	Draws             int32
	WinStreak         int32
	MaxWinStreak      int32
	TotalPointsEarned int32
}

// StudentProfile is the subset of the student_profiles table the engine
// reads. The table is owned by the auth collaborator.
type StudentProfile struct {
	ID        uuid.UUID
	Name      string
	AvatarURL sql.NullString
	Grade     sql.NullInt32
}
