// Package provisioner owns duel start: sourcing a question set, freezing it
// on the duel record, and handing the questions plus answer key back to the
// requesting participant. Both participants call StartDuel; exactly one
// selection ever wins.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/internal/duel"
	"github.com/sakirkocak/teknokul-duel/internal/models"
	"github.com/sakirkocak/teknokul-duel/internal/realtime"
)

const (
	// mixedSubject is the sentinel clients send for "any subject".
	mixedSubject = "Karışık"

	defaultGrade         = 8
	defaultQuestionCount = 5

	// overFetchFactor pads the sourcing request so shuffling has variety to
	// work with even when the pool barely covers the duel.
	overFetchFactor = 3

	// startRateLimit is the per-player cap on StartDuel calls within the
	// lease store's counter window.
	startRateLimit = 10

	// raceRetries bounds the re-read loop while another caller holds the
	// provisioning lease.
	raceRetries   = 10
	raceRetryWait = 200 * time.Millisecond

	// sourceFetchTimeout bounds each sourcing call so a hung tier cannot
	// stall StartDuel.
	sourceFetchTimeout = 5 * time.Second
)

// Source is one question sourcing tier. Grade 0 and empty subject disable
// the respective filter. Returning fewer questions than asked is not an
// error; the provisioner moves to the next tier.
type Source interface {
	Fetch(ctx context.Context, grade int, subject string, limit int) ([]models.SourcedQuestion, error)
}

// DuelRepository is the slice of the duel store the provisioner needs.
type DuelRepository interface {
	GetDuel(ctx context.Context, id uuid.UUID) (*models.Duel, error)
	ActivateDuel(ctx context.Context, id uuid.UUID, req duel.ActivateDuelRequest) (*models.Duel, error)
	GetStudentProfile(ctx context.Context, id uuid.UUID) (*models.StudentProfile, error)
}

// Provisioner implements idempotent duel provisioning.
type Provisioner struct {
	repo   DuelRepository
	index  Source
	store  Source
	leases realtime.LeaseStore
	clock  clockwork.Clock
}

// NewProvisioner creates a Provisioner. index may be nil when no search
// index is deployed; store is required.
func NewProvisioner(repo DuelRepository, index, store Source, leases realtime.LeaseStore, clock clockwork.Clock) *Provisioner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Provisioner{
		repo:   repo,
		index:  index,
		store:  store,
		leases: leases,
		clock:  clock,
	}
}

// StartDuelResponse is what a participant gets back: the duel record, the
// sanitized question list, and the answer key for local validation.
type StartDuelResponse struct {
	Duel      *models.Duel            `json:"duel"`
	Questions []models.Question       `json:"questions"`
	AnswerKey []models.AnswerKeyEntry `json:"answer_key"`
}

// StartDuel provisions the question set for a duel, or returns the already
// frozen set when another call got there first. playerID must be one of the
// duel's participants.
func (p *Provisioner) StartDuel(ctx context.Context, duelID, playerID uuid.UUID) (*StartDuelResponse, error) {
	count, err := p.leases.Increment(ctx, rateLimitKey(playerID))
	if err != nil {
		log.Warn().Err(err).Str("player_id", playerID.String()).Msg("rate limit check failed, allowing request")
	} else if count > startRateLimit {
		return nil, duel.ErrRateLimited
	}

	d, err := p.repo.GetDuel(ctx, duelID)
	if err != nil {
		return nil, err
	}
	if !d.HasParticipant(playerID) {
		return nil, duel.ErrUnauthorized
	}

	// Idempotency: a frozen set is returned as stored, never re-selected.
	if d.Provisioned() || d.Status == models.DuelStatusFinished {
		return responseFrom(d), nil
	}

	leaseKey := provisionLeaseKey(duelID)
	acquired, err := p.leases.Acquire(ctx, leaseKey)
	if err != nil {
		log.Warn().Err(err).Str("duel_id", duelID.String()).Msg("provision lease check failed, proceeding unguarded")
		acquired = true
	}
	if !acquired {
		// Someone else is selecting right now. Wait for their activation to
		// land rather than sourcing a competing set.
		return p.awaitProvisioned(ctx, duelID)
	}
	defer func() {
		if err := p.leases.Release(context.WithoutCancel(ctx), leaseKey); err != nil {
			log.Debug().Err(err).Str("duel_id", duelID.String()).Msg("provision lease release failed")
		}
	}()

	grade := p.lookupGrade(ctx, playerID)
	subject := d.Subject
	if subject == mixedSubject {
		subject = ""
	}
	questions, err := p.sourceQuestions(ctx, grade, subject, questionCount(d))
	if err != nil {
		return nil, err
	}

	key := make([]models.AnswerKeyEntry, len(questions))
	for i, q := range questions {
		key[i] = models.AnswerKeyEntry{
			QuestionID:    q.ID,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
		}
	}

	activated, err := p.repo.ActivateDuel(ctx, duelID, duel.ActivateDuelRequest{
		Questions: questions,
		AnswerKey: key,
		StartedAt: p.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, duel.ErrNotFound) {
			// Lost the activation race despite the lease. The winner's set
			// is authoritative.
			return p.awaitProvisioned(ctx, duelID)
		}
		return nil, err
	}

	log.Info().
		Str("duel_id", duelID.String()).
		Str("player_id", playerID.String()).
		Int("question_count", len(activated.Questions)).
		Int("grade", grade).
		Str("subject", d.Subject).
		Msg("duel provisioned")

	return responseFrom(activated), nil
}

// sourceQuestions walks the sourcing tiers: search index, content store,
// then both again with the grade filter relaxed. Each tier over-fetches so
// the shuffle draws from a wider pool; the result is shuffled and truncated
// to at most count. A pool smaller than count is served as-is; only a pool
// that stays empty after the relaxed tier is an error.
func (p *Provisioner) sourceQuestions(ctx context.Context, grade int, subject string, count int) ([]models.SourcedQuestion, error) {
	fetchLimit := count * overFetchFactor

	pool, err := p.sourceTier(ctx, grade, subject, count, fetchLimit)
	if err != nil {
		return nil, err
	}
	if len(pool) < count {
		relaxed, err := p.sourceTier(ctx, 0, subject, count, fetchLimit)
		if err != nil {
			return nil, err
		}
		if len(relaxed) > len(pool) {
			pool = relaxed
		}
	}
	if len(pool) == 0 {
		return nil, duel.ErrInsufficientQuestionPool
	}

	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	if len(pool) > count {
		pool = pool[:count]
	}
	return pool, nil
}

// sourceTier queries the index, then the content store when the index left
// the pool short. Each call carries its own deadline.
func (p *Provisioner) sourceTier(ctx context.Context, grade int, subject string, count, fetchLimit int) ([]models.SourcedQuestion, error) {
	var pool []models.SourcedQuestion
	if p.index != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, sourceFetchTimeout)
		indexed, err := p.index.Fetch(fetchCtx, grade, subject, fetchLimit)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("grade", grade).Msg("question index unavailable, falling back to content store")
		} else {
			pool = indexed
		}
	}
	if len(pool) < count {
		fetchCtx, cancel := context.WithTimeout(ctx, sourceFetchTimeout)
		stored, err := p.store.Fetch(fetchCtx, grade, subject, fetchLimit)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: content store fetch: %v", duel.ErrPersistence, err)
		}
		if len(stored) > len(pool) {
			pool = stored
		}
	}
	return pool, nil
}

// awaitProvisioned polls for the concurrent provisioner's activation to
// become visible.
func (p *Provisioner) awaitProvisioned(ctx context.Context, duelID uuid.UUID) (*StartDuelResponse, error) {
	for attempt := 0; attempt < raceRetries; attempt++ {
		d, err := p.repo.GetDuel(ctx, duelID)
		if err != nil {
			return nil, err
		}
		if d.Provisioned() || d.Status == models.DuelStatusFinished {
			return responseFrom(d), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(raceRetryWait):
		}
	}
	return nil, fmt.Errorf("%w: concurrent provisioning did not complete", duel.ErrPersistence)
}

// lookupGrade resolves the requester's grade for sourcing filters. Missing
// profile rows fall back to the default rather than failing the start.
func (p *Provisioner) lookupGrade(ctx context.Context, playerID uuid.UUID) int {
	profile, err := p.repo.GetStudentProfile(ctx, playerID)
	if err != nil || profile.Grade <= 0 {
		return defaultGrade
	}
	return profile.Grade
}

func questionCount(d *models.Duel) int {
	if d.QuestionCount > 0 {
		return d.QuestionCount
	}
	return defaultQuestionCount
}

func responseFrom(d *models.Duel) *StartDuelResponse {
	return &StartDuelResponse{
		Duel:      d,
		Questions: d.Questions,
		AnswerKey: d.AnswerKey,
	}
}

func provisionLeaseKey(duelID uuid.UUID) string {
	return fmt.Sprintf("provision:%s", duelID)
}

func rateLimitKey(playerID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:start:%s", playerID)
}
