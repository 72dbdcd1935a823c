package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const getDuel = `
SELECT id, challenger_id, opponent_id, status, subject, question_count,
       questions, answer_key, current_question, challenger_score,
       opponent_score, winner_id, started_at, completed_at, created_at, updated_at
FROM duels
WHERE id = $1
`

func (q *Queries) GetDuel(ctx context.Context, id uuid.UUID) (Duel, error) {
	row := q.db.QueryRowContext(ctx, getDuel, id)
	var d Duel
	err := row.Scan(
		&d.ID, &d.ChallengerID, &d.OpponentID, &d.Status, &d.Subject,
		&d.QuestionCount, &d.Questions, &d.AnswerKey, &d.CurrentQuestion,
		&d.ChallengerScore, &d.OpponentScore, &d.WinnerID, &d.StartedAt,
		&d.CompletedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

const activateDuel = `
UPDATE duels
SET status = 'active',
    questions = $2,
    answer_key = $3,
    current_question = 0,
    started_at = $4,
    updated_at = now()
WHERE id = $1 AND status = 'pending'
RETURNING id, challenger_id, opponent_id, status, subject, question_count,
          questions, answer_key, current_question, challenger_score,
          opponent_score, winner_id, started_at, completed_at, created_at, updated_at
`

type ActivateDuelParams struct {
	ID        uuid.UUID
	Questions pqtype.NullRawMessage
	AnswerKey pqtype.NullRawMessage
	StartedAt time.Time
}

// ActivateDuel transitions a pending duel to active and freezes its question
// set in a single conditional update. It returns sql.ErrNoRows when another
// caller won the race, in which case the persisted set is authoritative.
func (q *Queries) ActivateDuel(ctx context.Context, arg ActivateDuelParams) (Duel, error) {
	row := q.db.QueryRowContext(ctx, activateDuel, arg.ID, arg.Questions, arg.AnswerKey, arg.StartedAt)
	var d Duel
	err := row.Scan(
		&d.ID, &d.ChallengerID, &d.OpponentID, &d.Status, &d.Subject,
		&d.QuestionCount, &d.Questions, &d.AnswerKey, &d.CurrentQuestion,
		&d.ChallengerScore, &d.OpponentScore, &d.WinnerID, &d.StartedAt,
		&d.CompletedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

const upsertDuelAnswer = `
INSERT INTO duel_answers (
    duel_id, player_id, question_index, question_id, answer,
    is_correct, time_taken_ms, points_earned, streak_bonus, answered_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (duel_id, player_id, question_index) DO UPDATE SET
    answer = EXCLUDED.answer,
    is_correct = EXCLUDED.is_correct,
    time_taken_ms = EXCLUDED.time_taken_ms,
    points_earned = EXCLUDED.points_earned,
    streak_bonus = EXCLUDED.streak_bonus,
    answered_at = EXCLUDED.answered_at
`

type UpsertDuelAnswerParams struct {
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

func (q *Queries) UpsertDuelAnswer(ctx context.Context, arg UpsertDuelAnswerParams) error {
	_, err := q.db.ExecContext(ctx, upsertDuelAnswer,
		arg.DuelID, arg.PlayerID, arg.QuestionIndex, arg.QuestionID, arg.Answer,
		arg.IsCorrect, arg.TimeTakenMs, arg.PointsEarned, arg.StreakBonus, arg.AnsweredAt,
	)
	return err
}

const listRecentAnswers = `
SELECT duel_id, player_id, question_index, question_id, answer,
       is_correct, time_taken_ms, points_earned, streak_bonus, answered_at
FROM duel_answers
WHERE duel_id = $1 AND player_id = $2
ORDER BY question_index DESC
LIMIT $3
`

type ListRecentAnswersParams struct {
	DuelID   uuid.UUID
	PlayerID uuid.UUID
	Limit    int32
}

func (q *Queries) ListRecentAnswers(ctx context.Context, arg ListRecentAnswersParams) ([]DuelAnswer, error) {
	rows, err := q.db.QueryContext(ctx, listRecentAnswers, arg.DuelID, arg.PlayerID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []DuelAnswer
	for rows.Next() {
		var a DuelAnswer
		if err := rows.Scan(
			&a.DuelID, &a.PlayerID, &a.QuestionIndex, &a.QuestionID, &a.Answer,
			&a.IsCorrect, &a.TimeTakenMs, &a.PointsEarned, &a.StreakBonus, &a.AnsweredAt,
		); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

const countAnswersForQuestion = `
SELECT COUNT(*) FROM duel_answers
WHERE duel_id = $1 AND question_index = $2
`

type CountAnswersForQuestionParams struct {
	DuelID        uuid.UUID
	QuestionIndex int32
}

func (q *Queries) CountAnswersForQuestion(ctx context.Context, arg CountAnswersForQuestionParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countAnswersForQuestion, arg.DuelID, arg.QuestionIndex)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const addChallengerScore = `
UPDATE duels SET challenger_score = challenger_score + $2, updated_at = now()
WHERE id = $1
`

const addOpponentScore = `
UPDATE duels SET opponent_score = opponent_score + $2, updated_at = now()
WHERE id = $1
`

type AddScoreParams struct {
	ID     uuid.UUID
	Points int32
}

func (q *Queries) AddChallengerScore(ctx context.Context, arg AddScoreParams) error {
	_, err := q.db.ExecContext(ctx, addChallengerScore, arg.ID, arg.Points)
	return err
}

func (q *Queries) AddOpponentScore(ctx context.Context, arg AddScoreParams) error {
	_, err := q.db.ExecContext(ctx, addOpponentScore, arg.ID, arg.Points)
	return err
}

const finishDuel = `
UPDATE duels
SET status = 'finished',
    winner_id = $2,
    completed_at = $3,
    updated_at = now()
WHERE id = $1 AND status = 'active'
RETURNING id, challenger_id, opponent_id, status, subject, question_count,
          questions, answer_key, current_question, challenger_score,
          opponent_score, winner_id, started_at, completed_at, created_at, updated_at
`

type FinishDuelParams struct {
	ID          uuid.UUID
	WinnerID    uuid.NullUUID
	CompletedAt time.Time
}

func (q *Queries) FinishDuel(ctx context.Context, arg FinishDuelParams) (Duel, error) {
	row := q.db.QueryRowContext(ctx, finishDuel, arg.ID, arg.WinnerID, arg.CompletedAt)
	var d Duel
	err := row.Scan(
		&d.ID, &d.ChallengerID, &d.OpponentID, &d.Status, &d.Subject,
		&d.QuestionCount, &d.Questions, &d.AnswerKey, &d.CurrentQuestion,
		&d.ChallengerScore, &d.OpponentScore, &d.WinnerID, &d.StartedAt,
		&d.CompletedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

const getDuelStats = `
SELECT player_id, total_duels, wins, losses, draws, win_streak,
       max_win_streak, total_points_earned
FROM duel_stats
WHERE player_id = $1
`

func (q *Queries) GetDuelStats(ctx context.Context, playerID uuid.UUID) (DuelStat, error) {
	row := q.db.QueryRowContext(ctx, getDuelStats, playerID)
	var s DuelStat
	err := row.Scan(
		&s.PlayerID, &s.TotalDuels, &s.Wins, &s.Losses, &s.Draws,
		&s.WinStreak, &s.MaxWinStreak, &s.TotalPointsEarned,
	)
	return s, err
}

const upsertDuelStats = `
INSERT INTO duel_stats (
    player_id, total_duels, wins, losses, draws, win_streak,
    max_win_streak, total_points_earned
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (player_id) DO UPDATE SET
    total_duels = EXCLUDED.total_duels,
    wins = EXCLUDED.wins,
    losses = EXCLUDED.losses,
    draws = EXCLUDED.draws,
    win_streak = EXCLUDED.win_streak,
    max_win_streak = EXCLUDED.max_win_streak,
    total_points_earned = EXCLUDED.total_points_earned
`

type UpsertDuelStatsParams struct {
	PlayerID          uuid.UUID
	TotalDuels        int32
	Wins              int32
	Losses            int32
	Draws             int32
	WinStreak         int32
	MaxWinStreak      int32
	TotalPointsEarned int32
}

func (q *Queries) UpsertDuelStats(ctx context.Context, arg UpsertDuelStatsParams) error {
	_, err := q.db.ExecContext(ctx, upsertDuelStats,
		arg.PlayerID, arg.TotalDuels, arg.Wins, arg.Losses, arg.Draws,
		arg.WinStreak, arg.MaxWinStreak, arg.TotalPointsEarned,
	)
	return err
}

const getStudentProfile = `
SELECT id, name, avatar_url, grade
FROM student_profiles
WHERE id = $1
`

func (q *Queries) GetStudentProfile(ctx context.Context, id uuid.UUID) (StudentProfile, error) {
	row := q.db.QueryRowContext(ctx, getStudentProfile, id)
	var p StudentProfile
	err := row.Scan(&p.ID, &p.Name, &p.AvatarURL, &p.Grade)
	return p, err
}
