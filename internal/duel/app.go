package duel

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/internal/models"
	"github.com/sakirkocak/teknokul-duel/internal/scoring"
)

// DuelRepository defines what the app layer needs from the repository.
type DuelRepository interface {
	GetDuel(ctx context.Context, id uuid.UUID) (*models.Duel, error)
	RecordAnswerAndScore(ctx context.Context, duel *models.Duel, req RecordAnswerRequest, points int) error
	CurrentStreak(ctx context.Context, duelID, playerID uuid.UUID) (int, error)
	CountAnswersForQuestion(ctx context.Context, duelID uuid.UUID, questionIndex int) (int, error)
	FinishDuel(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, completedAt time.Time) (*models.Duel, error)
	GetDuelStats(ctx context.Context, playerID uuid.UUID) (*models.DuelStats, error)
	SaveDuelStats(ctx context.Context, stats *models.DuelStats) error
}

// App handles duel business logic: the server-side answer checkpoint path
// and result finalization. Live gameplay state stays on the peers; what runs
// through here is the persisted audit trail and the final outcome.
type App struct {
	repo DuelRepository
}

// NewApp creates a new duel App.
func NewApp(repo DuelRepository) *App {
	return &App{repo: repo}
}

// SubmitAnswerRequest is one player's answer to one question.
type SubmitAnswerRequest struct {
	DuelID        uuid.UUID
	PlayerID      uuid.UUID
	QuestionIndex int
	Answer        string
	TimeTakenMs   int
}

// AnswerResult is what the answering client gets back.
type AnswerResult struct {
	IsCorrect     bool       `json:"is_correct"`
	CorrectAnswer string     `json:"correct_answer"`
	Explanation   string     `json:"explanation,omitempty"`
	PointsEarned  int        `json:"points_earned"`
	StreakBonus   int        `json:"streak_bonus"`
	NewStreak     int        `json:"new_streak"`
	DuelFinished  bool       `json:"duel_finished"`
	WinnerID      *uuid.UUID `json:"winner_id,omitempty"`
}

// GetDuel returns the duel record.
func (a *App) GetDuel(ctx context.Context, id uuid.UUID) (*models.Duel, error) {
	return a.repo.GetDuel(ctx, id)
}

// SubmitAnswer validates an answer against the frozen key, scores it with
// the persisted streak, checkpoints the result, and finalizes the duel once
// both players have answered the last question.
func (a *App) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*AnswerResult, error) {
	duel, err := a.repo.GetDuel(ctx, req.DuelID)
	if err != nil {
		return nil, err
	}
	if !duel.HasParticipant(req.PlayerID) {
		return nil, ErrUnauthorized
	}
	if duel.Status != models.DuelStatusActive {
		return nil, ErrDuelNotActive
	}
	if req.QuestionIndex < 0 || req.QuestionIndex >= len(duel.AnswerKey) {
		return nil, ErrInvalidQuestionIndex
	}

	// Case-insensitive, like the peers' live fold: the checkpoint and the
	// folded state must agree on correctness.
	key := duel.AnswerKey[req.QuestionIndex]
	isCorrect := strings.EqualFold(req.Answer, key.CorrectAnswer)

	priorStreak, err := a.repo.CurrentStreak(ctx, req.DuelID, req.PlayerID)
	if err != nil {
		return nil, err
	}
	score := scoring.Score(isCorrect, priorStreak)

	err = a.repo.RecordAnswerAndScore(ctx, duel, RecordAnswerRequest{
		PlayerID:      req.PlayerID,
		QuestionIndex: req.QuestionIndex,
		QuestionID:    key.QuestionID,
		Answer:        req.Answer,
		IsCorrect:     isCorrect,
		TimeTakenMs:   req.TimeTakenMs,
		PointsEarned:  score.PointsEarned,
		StreakBonus:   score.ComboBonus,
		AnsweredAt:    time.Now().UTC(),
	}, score.Total())
	if err != nil {
		return nil, err
	}

	result := &AnswerResult{
		IsCorrect:     isCorrect,
		CorrectAnswer: key.CorrectAnswer,
		Explanation:   key.Explanation,
		PointsEarned:  score.Total(),
		StreakBonus:   score.ComboBonus,
		NewStreak:     score.NewStreak,
	}

	// Last question answered by both players ends the duel.
	if req.QuestionIndex == len(duel.Questions)-1 {
		answered, err := a.repo.CountAnswersForQuestion(ctx, req.DuelID, req.QuestionIndex)
		if err != nil {
			return nil, err
		}
		if answered >= 2 {
			finished, err := a.finishDuel(ctx, req.DuelID)
			if err != nil {
				return nil, err
			}
			result.DuelFinished = true
			result.WinnerID = finished.WinnerID
		}
	}

	log.Info().
		Str("duel_id", req.DuelID.String()).
		Str("player_id", req.PlayerID.String()).
		Int("question_index", req.QuestionIndex).
		Bool("is_correct", isCorrect).
		Int("points", score.Total()).
		Msg("answer recorded")

	return result, nil
}

// finishDuel determines the winner from the running scores and updates both
// players' lifetime stats. A tie leaves the winner unset.
func (a *App) finishDuel(ctx context.Context, duelID uuid.UUID) (*models.Duel, error) {
	duel, err := a.repo.GetDuel(ctx, duelID)
	if err != nil {
		return nil, err
	}

	var winnerID *uuid.UUID
	switch {
	case duel.ChallengerScore > duel.OpponentScore:
		winnerID = &duel.ChallengerID
	case duel.OpponentScore > duel.ChallengerScore:
		winnerID = &duel.OpponentID
	}

	finished, err := a.repo.FinishDuel(ctx, duelID, winnerID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	isDraw := winnerID == nil
	for _, playerID := range []uuid.UUID{duel.ChallengerID, duel.OpponentID} {
		won := winnerID != nil && *winnerID == playerID
		if err := a.updateStats(ctx, playerID, won, isDraw); err != nil {
			// Stats are best-effort bookkeeping; the duel result stands.
			log.Error().Err(err).
				Str("duel_id", duelID.String()).
				Str("player_id", playerID.String()).
				Msg("failed to update duel stats")
		}
	}

	log.Info().
		Str("duel_id", duelID.String()).
		Str("winner", winnerLabel(winnerID)).
		Msg("duel finished")

	return finished, nil
}

func (a *App) updateStats(ctx context.Context, playerID uuid.UUID, won, draw bool) error {
	stats, err := a.repo.GetDuelStats(ctx, playerID)
	if err != nil {
		return err
	}

	stats.TotalDuels++
	switch {
	case won:
		stats.Wins++
		stats.WinStreak++
		if stats.WinStreak > stats.MaxWinStreak {
			stats.MaxWinStreak = stats.WinStreak
		}
		stats.TotalPointsEarned += scoring.BasePoints
	case draw:
		stats.Draws++
		stats.WinStreak = 0
	default:
		stats.Losses++
		stats.WinStreak = 0
	}

	return a.repo.SaveDuelStats(ctx, stats)
}

func winnerLabel(winnerID *uuid.UUID) string {
	if winnerID == nil {
		return "draw"
	}
	return winnerID.String()
}
