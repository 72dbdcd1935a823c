package duel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/sakirkocak/teknokul-duel/internal/duel/db"
	"github.com/sakirkocak/teknokul-duel/internal/models"
	"github.com/sakirkocak/teknokul-duel/internal/sqlutil"
)

// Querier defines what the repository needs from the database layer for
// single-statement operations; the transactional answer path binds its own
// Queries to the tx.
type Querier interface {
	GetDuel(ctx context.Context, id uuid.UUID) (db.Duel, error)
	ActivateDuel(ctx context.Context, arg db.ActivateDuelParams) (db.Duel, error)
	ListRecentAnswers(ctx context.Context, arg db.ListRecentAnswersParams) ([]db.DuelAnswer, error)
	CountAnswersForQuestion(ctx context.Context, arg db.CountAnswersForQuestionParams) (int64, error)
	FinishDuel(ctx context.Context, arg db.FinishDuelParams) (db.Duel, error)
	GetDuelStats(ctx context.Context, playerID uuid.UUID) (db.DuelStat, error)
	UpsertDuelStats(ctx context.Context, arg db.UpsertDuelStatsParams) error
	GetStudentProfile(ctx context.Context, id uuid.UUID) (db.StudentProfile, error)
}

// Repository implements duel store data access.
type Repository struct {
	queries Querier
	db      *sql.DB
}

// NewRepository creates a new duel repository. The raw handle is used for
// the transactional answer path; it may be nil when only single-statement
// operations are exercised.
func NewRepository(querier Querier, database *sql.DB) *Repository {
	return &Repository{
		queries: querier,
		db:      database,
	}
}

// ActivateDuelRequest carries the frozen question set for activation.
type ActivateDuelRequest struct {
	Questions []models.SourcedQuestion
	AnswerKey []models.AnswerKeyEntry
	StartedAt time.Time
}

// RecordAnswerRequest persists one answered question.
type RecordAnswerRequest struct {
	PlayerID      uuid.UUID
	QuestionIndex int
	QuestionID    string
	Answer        string
	IsCorrect     bool
	TimeTakenMs   int
	PointsEarned  int
	StreakBonus   int
	AnsweredAt    time.Time
}

// GetDuel retrieves a duel by ID.
func (r *Repository) GetDuel(ctx context.Context, id uuid.UUID) (*models.Duel, error) {
	duel, err := r.queries.GetDuel(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get duel: %w", err)
	}
	return r.dbDuelToModel(duel)
}

// ActivateDuel freezes the question set and flips the duel to active in one
// conditional update. ErrNotFound here means another caller won the
// activation race (or the duel is already finished); the caller should
// re-read the record.
func (r *Repository) ActivateDuel(ctx context.Context, id uuid.UUID, req ActivateDuelRequest) (*models.Duel, error) {
	// Questions persist sanitized; the key lives in its own column so the
	// question list can be returned to clients as stored.
	sanitized := make([]models.Question, len(req.Questions))
	for i, q := range req.Questions {
		sanitized[i] = q.Sanitize()
	}
	questionsJSON, err := json.Marshal(sanitized)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal questions: %w", err)
	}
	keyJSON, err := json.Marshal(req.AnswerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer key: %w", err)
	}

	duel, err := r.queries.ActivateDuel(ctx, db.ActivateDuelParams{
		ID:        id,
		Questions: pqtype.NullRawMessage{RawMessage: questionsJSON, Valid: true},
		AnswerKey: pqtype.NullRawMessage{RawMessage: keyJSON, Valid: true},
		StartedAt: req.StartedAt,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: activate duel: %v", ErrPersistence, err)
	}
	return r.dbDuelToModel(duel)
}

// RecordAnswerAndScore writes the answer row and the score delta in one
// transaction, so a crash between the two cannot leave the running score out
// of step with the answer trail.
func (r *Repository) RecordAnswerAndScore(ctx context.Context, duel *models.Duel, req RecordAnswerRequest, points int) error {
	err := sqlutil.Run(ctx, r.db,
		func(tx *sql.Tx) *db.Queries { return db.New(tx) },
		func(q *db.Queries) error {
			if err := q.UpsertDuelAnswer(ctx, db.UpsertDuelAnswerParams{
				DuelID:        duel.ID,
				PlayerID:      req.PlayerID,
				QuestionIndex: int32(req.QuestionIndex),
				QuestionID:    req.QuestionID,
				Answer:        req.Answer,
				IsCorrect:     req.IsCorrect,
				TimeTakenMs:   int32(req.TimeTakenMs),
				PointsEarned:  int32(req.PointsEarned),
				StreakBonus:   int32(req.StreakBonus),
				AnsweredAt:    req.AnsweredAt,
			}); err != nil {
				return err
			}
			if points == 0 {
				return nil
			}
			arg := db.AddScoreParams{ID: duel.ID, Points: int32(points)}
			if duel.ChallengerID == req.PlayerID {
				return q.AddChallengerScore(ctx, arg)
			}
			return q.AddOpponentScore(ctx, arg)
		})
	if err != nil {
		return fmt.Errorf("%w: record answer: %v", ErrPersistence, err)
	}
	return nil
}

// CurrentStreak derives a player's streak from the persisted answer trail:
// consecutive correct answers counted from the most recent question backward.
func (r *Repository) CurrentStreak(ctx context.Context, duelID, playerID uuid.UUID) (int, error) {
	answers, err := r.queries.ListRecentAnswers(ctx, db.ListRecentAnswersParams{
		DuelID:   duelID,
		PlayerID: playerID,
		Limit:    10,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list recent answers: %w", err)
	}

	streak := 0
	for _, a := range answers {
		if !a.IsCorrect {
			break
		}
		streak++
	}
	return streak, nil
}

// CountAnswersForQuestion reports how many players have answered the given
// question index.
func (r *Repository) CountAnswersForQuestion(ctx context.Context, duelID uuid.UUID, questionIndex int) (int, error) {
	count, err := r.queries.CountAnswersForQuestion(ctx, db.CountAnswersForQuestionParams{
		DuelID:        duelID,
		QuestionIndex: int32(questionIndex),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count answers: %w", err)
	}
	return int(count), nil
}

// FinishDuel marks the duel finished with the given winner (nil for a tie).
func (r *Repository) FinishDuel(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, completedAt time.Time) (*models.Duel, error) {
	duel, err := r.queries.FinishDuel(ctx, db.FinishDuelParams{
		ID:          id,
		WinnerID:    sqlutil.ToNullUUID(winnerID),
		CompletedAt: completedAt,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Already finished by the other participant's last answer.
			return r.GetDuel(ctx, id)
		}
		return nil, fmt.Errorf("%w: finish duel: %v", ErrPersistence, err)
	}
	return r.dbDuelToModel(duel)
}

// GetDuelStats returns a player's lifetime record, zero-valued when absent.
func (r *Repository) GetDuelStats(ctx context.Context, playerID uuid.UUID) (*models.DuelStats, error) {
	stat, err := r.queries.GetDuelStats(ctx, playerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.DuelStats{PlayerID: playerID}, nil
		}
		return nil, fmt.Errorf("failed to get duel stats: %w", err)
	}
	return &models.DuelStats{
		PlayerID:          stat.PlayerID,
		TotalDuels:        int(stat.TotalDuels),
		Wins:              int(stat.Wins),
		Losses:            int(stat.Losses),
		Draws:             int(stat.Draws),
		WinStreak:         int(stat.WinStreak),
		MaxWinStreak:      int(stat.MaxWinStreak),
		TotalPointsEarned: int(stat.TotalPointsEarned),
	}, nil
}

// SaveDuelStats writes a player's updated lifetime record.
func (r *Repository) SaveDuelStats(ctx context.Context, stats *models.DuelStats) error {
	err := r.queries.UpsertDuelStats(ctx, db.UpsertDuelStatsParams{
		PlayerID:          stats.PlayerID,
		TotalDuels:        int32(stats.TotalDuels),
		Wins:              int32(stats.Wins),
		Losses:            int32(stats.Losses),
		Draws:             int32(stats.Draws),
		WinStreak:         int32(stats.WinStreak),
		MaxWinStreak:      int32(stats.MaxWinStreak),
		TotalPointsEarned: int32(stats.TotalPointsEarned),
	})
	if err != nil {
		return fmt.Errorf("%w: save duel stats: %v", ErrPersistence, err)
	}
	return nil
}

// GetStudentProfile reads the auth collaborator's profile row for a player.
func (r *Repository) GetStudentProfile(ctx context.Context, id uuid.UUID) (*models.StudentProfile, error) {
	p, err := r.queries.GetStudentProfile(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get student profile: %w", err)
	}
	return &models.StudentProfile{
		ID:        p.ID,
		Name:      p.Name,
		AvatarURL: sqlutil.FromSqlString(p.AvatarURL, ""),
		Grade:     int(p.Grade.Int32),
	}, nil
}

// dbDuelToModel converts a database duel to the domain model.
func (r *Repository) dbDuelToModel(d db.Duel) (*models.Duel, error) {
	duel := &models.Duel{
		ID:              d.ID,
		ChallengerID:    d.ChallengerID,
		OpponentID:      d.OpponentID,
		Status:          models.DuelStatus(d.Status),
		Subject:         sqlutil.FromSqlString(d.Subject, ""),
		QuestionCount:   int(d.QuestionCount),
		CurrentQuestion: int(d.CurrentQuestion),
		ChallengerScore: int(d.ChallengerScore),
		OpponentScore:   int(d.OpponentScore),
		WinnerID:        sqlutil.FromNullUUID(d.WinnerID),
		StartedAt:       sqlutil.FromSqlTime(d.StartedAt),
		CompletedAt:     sqlutil.FromSqlTime(d.CompletedAt),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}

	if d.Questions.Valid {
		if err := json.Unmarshal(d.Questions.RawMessage, &duel.Questions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal duel questions: %w", err)
		}
	}
	if d.AnswerKey.Valid {
		if err := json.Unmarshal(d.AnswerKey.RawMessage, &duel.AnswerKey); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answer key: %w", err)
		}
	}
	return duel, nil
}
