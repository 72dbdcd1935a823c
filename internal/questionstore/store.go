// Package questionstore reads question content straight from Postgres. It is
// the fallback sourcing tier behind the search index.
package questionstore

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/internal/models"
)

// Store fetches active questions from the content database.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store over an existing connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const countQuery = `
SELECT COUNT(*)
FROM questions
WHERE is_active = true
  AND ($1 = 0 OR grade = $1)
  AND ($2 = '' OR subject_name = $2)
`

const fetchQuery = `
SELECT id, question_text,
       option_a, option_b, option_c, option_d, COALESCE(option_e, ''),
       correct_answer, COALESCE(explanation, ''), COALESCE(image_url, ''),
       subject_name, COALESCE(topic_name, ''), grade, difficulty
FROM questions
WHERE is_active = true
  AND ($1 = 0 OR grade = $1)
  AND ($2 = '' OR subject_name = $2)
ORDER BY id
OFFSET $3
LIMIT $4
`

// Fetch returns up to limit active questions matching the filter, starting
// from a randomized offset so repeated duels do not keep drawing the same
// rows. Grade 0 and empty subject disable the respective filter.
func (s *Store) Fetch(ctx context.Context, grade int, subject string, limit int) ([]models.SourcedQuestion, error) {
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, grade, subject).Scan(&total); err != nil {
		return nil, fmt.Errorf("count questions: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	offset := 0
	if total > limit {
		offset = rand.Intn(total - limit + 1)
	}

	rows, err := s.pool.Query(ctx, fetchQuery, grade, subject, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	defer rows.Close()

	var questions []models.SourcedQuestion
	for rows.Next() {
		var q models.SourcedQuestion
		if err := rows.Scan(
			&q.ID, &q.Prompt,
			&q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.OptionE,
			&q.CorrectAnswer, &q.Explanation, &q.ImageURL,
			&q.Subject, &q.Topic, &q.Grade, &q.Difficulty,
		); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}

	log.Debug().
		Int("grade", grade).
		Str("subject", subject).
		Int("fetched", len(questions)).
		Int("pool_size", total).
		Msg("fetched questions from content store")

	return questions, nil
}
