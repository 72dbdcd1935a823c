package provisioner

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakirkocak/teknokul-duel/internal/duel"
	"github.com/sakirkocak/teknokul-duel/internal/models"
	"github.com/sakirkocak/teknokul-duel/internal/realtime"
)

type fakeRepo struct {
	duel      *models.Duel
	profile   *models.StudentProfile
	getCalls  int
	activated bool

	// provisionOnGet makes the duel appear provisioned by a concurrent
	// caller after the first read.
	provisionOnGet bool
}

func (f *fakeRepo) GetDuel(ctx context.Context, id uuid.UUID) (*models.Duel, error) {
	f.getCalls++
	if f.duel == nil || f.duel.ID != id {
		return nil, duel.ErrNotFound
	}
	if f.provisionOnGet && f.getCalls > 1 && !f.duel.Provisioned() {
		f.duel.Status = models.DuelStatusActive
		f.duel.Questions = []models.Question{{ID: "q-remote"}}
		f.duel.AnswerKey = []models.AnswerKeyEntry{{QuestionID: "q-remote", CorrectAnswer: "A"}}
	}
	copied := *f.duel
	return &copied, nil
}

func (f *fakeRepo) ActivateDuel(ctx context.Context, id uuid.UUID, req duel.ActivateDuelRequest) (*models.Duel, error) {
	if f.duel.Status != models.DuelStatusPending {
		return nil, duel.ErrNotFound
	}
	f.activated = true
	f.duel.Status = models.DuelStatusActive
	f.duel.Questions = make([]models.Question, len(req.Questions))
	for i, q := range req.Questions {
		f.duel.Questions[i] = q.Sanitize()
	}
	f.duel.AnswerKey = req.AnswerKey
	f.duel.StartedAt = &req.StartedAt
	copied := *f.duel
	return &copied, nil
}

func (f *fakeRepo) GetStudentProfile(ctx context.Context, id uuid.UUID) (*models.StudentProfile, error) {
	if f.profile == nil {
		return nil, duel.ErrNotFound
	}
	return f.profile, nil
}

type fakeSource struct {
	byGrade map[int][]models.SourcedQuestion
	calls   int
	grades  []int
	err     error

	missingDeadline bool
}

func (f *fakeSource) Fetch(ctx context.Context, grade int, subject string, limit int) ([]models.SourcedQuestion, error) {
	f.calls++
	f.grades = append(f.grades, grade)
	if _, ok := ctx.Deadline(); !ok {
		f.missingDeadline = true
	}
	if f.err != nil {
		return nil, f.err
	}
	pool := f.byGrade[grade]
	if len(pool) > limit {
		pool = pool[:limit]
	}
	return pool, nil
}

func makeQuestions(prefix string, n int) []models.SourcedQuestion {
	qs := make([]models.SourcedQuestion, n)
	for i := range qs {
		qs[i] = models.SourcedQuestion{
			Question:      models.Question{ID: prefix + string(rune('a'+i)), Grade: 8},
			CorrectAnswer: "B",
			Explanation:   "because",
		}
	}
	return qs
}

func pendingDuel(challenger, opponent uuid.UUID) *models.Duel {
	return &models.Duel{
		ID:            uuid.New(),
		ChallengerID:  challenger,
		OpponentID:    opponent,
		Status:        models.DuelStatusPending,
		QuestionCount: 5,
	}
}

func newTestProvisioner(repo *fakeRepo, index, store Source) *Provisioner {
	leases := realtime.NewMemoryLeaseStore(time.Minute, clockwork.NewFakeClock())
	return NewProvisioner(repo, index, store, leases, clockwork.NewRealClock())
}

func TestStartDuelProvisionsFromIndex(t *testing.T) {
	challenger := uuid.New()
	repo := &fakeRepo{
		duel:    pendingDuel(challenger, uuid.New()),
		profile: &models.StudentProfile{ID: challenger, Grade: 8},
	}
	index := &fakeSource{byGrade: map[int][]models.SourcedQuestion{8: makeQuestions("q", 15)}}
	store := &fakeSource{}

	p := newTestProvisioner(repo, index, store)
	resp, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	require.NoError(t, err)

	assert.Len(t, resp.Questions, 5)
	assert.Len(t, resp.AnswerKey, 5)
	assert.Equal(t, models.DuelStatusActive, resp.Duel.Status)
	assert.Zero(t, store.calls, "index satisfied the request, store should stay cold")

	// The key covers exactly the selected questions, in order.
	for i, q := range resp.Questions {
		assert.Equal(t, q.ID, resp.AnswerKey[i].QuestionID)
		assert.Equal(t, "B", resp.AnswerKey[i].CorrectAnswer)
	}
}

func TestStartDuelIsIdempotent(t *testing.T) {
	challenger := uuid.New()
	opponent := uuid.New()
	repo := &fakeRepo{duel: pendingDuel(challenger, opponent)}
	index := &fakeSource{byGrade: map[int][]models.SourcedQuestion{8: makeQuestions("q", 15)}}
	store := &fakeSource{}

	p := newTestProvisioner(repo, index, store)
	first, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	require.NoError(t, err)

	indexCalls := index.calls
	second, err := p.StartDuel(context.Background(), repo.duel.ID, opponent)
	require.NoError(t, err)

	assert.Equal(t, first.Questions, second.Questions)
	assert.Equal(t, first.AnswerKey, second.AnswerKey)
	assert.Equal(t, indexCalls, index.calls, "second call must not re-select")
}

func TestStartDuelFallsBackToContentStore(t *testing.T) {
	challenger := uuid.New()
	repo := &fakeRepo{duel: pendingDuel(challenger, uuid.New())}
	index := &fakeSource{byGrade: map[int][]models.SourcedQuestion{8: makeQuestions("i", 2)}}
	store := &fakeSource{byGrade: map[int][]models.SourcedQuestion{8: makeQuestions("s", 12)}}

	p := newTestProvisioner(repo, index, store)
	resp, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	require.NoError(t, err)

	assert.Len(t, resp.Questions, 5)
	for _, q := range resp.Questions {
		assert.Equal(t, byte('s'), q.ID[0])
	}
}

func TestStartDuelRelaxesGradeFilter(t *testing.T) {
	challenger := uuid.New()
	repo := &fakeRepo{
		duel:    pendingDuel(challenger, uuid.New()),
		profile: &models.StudentProfile{ID: challenger, Grade: 11},
	}
	store := &fakeSource{byGrade: map[int][]models.SourcedQuestion{
		11: makeQuestions("g", 1),
		0:  makeQuestions("r", 8),
	}}

	p := newTestProvisioner(repo, nil, store)
	resp, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	require.NoError(t, err)
	assert.Len(t, resp.Questions, 5)
}

func TestStartDuelExhaustedPool(t *testing.T) {
	challenger := uuid.New()
	repo := &fakeRepo{duel: pendingDuel(challenger, uuid.New())}
	store := &fakeSource{}

	p := newTestProvisioner(repo, nil, store)
	_, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	assert.ErrorIs(t, err, duel.ErrInsufficientQuestionPool)
	assert.False(t, repo.activated)
	assert.Equal(t, []int{8, 0}, store.grades, "must relax the grade filter before giving up")
}

func TestStartDuelTruncatesToAvailablePool(t *testing.T) {
	challenger := uuid.New()
	repo := &fakeRepo{duel: pendingDuel(challenger, uuid.New())}
	store := &fakeSource{byGrade: map[int][]models.SourcedQuestion{
		8: makeQuestions("q", 3),
		0: makeQuestions("q", 3),
	}}

	// A pool smaller than the requested count is served whole, not refused.
	p := newTestProvisioner(repo, nil, store)
	resp, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	require.NoError(t, err)

	assert.Len(t, resp.Questions, 3)
	assert.Len(t, resp.AnswerKey, 3)
	assert.True(t, repo.activated)
}

func TestStartDuelRelaxedTierRetriesIndex(t *testing.T) {
	challenger := uuid.New()
	repo := &fakeRepo{duel: pendingDuel(challenger, uuid.New())}
	index := &fakeSource{byGrade: map[int][]models.SourcedQuestion{
		0: makeQuestions("i", 9),
	}}
	store := &fakeSource{}

	p := newTestProvisioner(repo, index, store)
	resp, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	require.NoError(t, err)

	assert.Contains(t, index.grades, 0, "relaxed tier must retry the index")
	assert.Len(t, resp.Questions, 5)
	for _, q := range resp.Questions {
		assert.Equal(t, byte('i'), q.ID[0])
	}
}

func TestStartDuelBoundsSourcingCalls(t *testing.T) {
	challenger := uuid.New()
	repo := &fakeRepo{duel: pendingDuel(challenger, uuid.New())}
	index := &fakeSource{byGrade: map[int][]models.SourcedQuestion{8: makeQuestions("i", 2)}}
	store := &fakeSource{byGrade: map[int][]models.SourcedQuestion{8: makeQuestions("s", 12)}}

	p := newTestProvisioner(repo, index, store)
	_, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	require.NoError(t, err)

	assert.False(t, index.missingDeadline, "every index fetch must carry a deadline")
	assert.False(t, store.missingDeadline, "every store fetch must carry a deadline")
}

func TestStartDuelRejectsNonParticipant(t *testing.T) {
	repo := &fakeRepo{duel: pendingDuel(uuid.New(), uuid.New())}
	p := newTestProvisioner(repo, nil, &fakeSource{})

	_, err := p.StartDuel(context.Background(), repo.duel.ID, uuid.New())
	assert.ErrorIs(t, err, duel.ErrUnauthorized)
}

func TestStartDuelUnknownDuel(t *testing.T) {
	repo := &fakeRepo{}
	p := newTestProvisioner(repo, nil, &fakeSource{})

	_, err := p.StartDuel(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, duel.ErrNotFound)
}

func TestStartDuelRateLimited(t *testing.T) {
	challenger := uuid.New()
	repo := &fakeRepo{duel: pendingDuel(challenger, uuid.New())}
	index := &fakeSource{byGrade: map[int][]models.SourcedQuestion{8: makeQuestions("q", 15)}}

	p := newTestProvisioner(repo, index, &fakeSource{})
	for i := 0; i < startRateLimit; i++ {
		_, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
		require.NoError(t, err)
	}

	_, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	assert.ErrorIs(t, err, duel.ErrRateLimited)
}

func TestStartDuelWaitsOutConcurrentProvisioner(t *testing.T) {
	challenger := uuid.New()
	repo := &fakeRepo{duel: pendingDuel(challenger, uuid.New()), provisionOnGet: true}

	leases := realtime.NewMemoryLeaseStore(time.Minute, clockwork.NewFakeClock())
	held, err := leases.Acquire(context.Background(), provisionLeaseKey(repo.duel.ID))
	require.NoError(t, err)
	require.True(t, held)

	p := NewProvisioner(repo, nil, &fakeSource{}, leases, clockwork.NewRealClock())
	resp, err := p.StartDuel(context.Background(), repo.duel.ID, challenger)
	require.NoError(t, err)

	assert.False(t, repo.activated, "must not source a competing set")
	require.Len(t, resp.Questions, 1)
	assert.Equal(t, "q-remote", resp.Questions[0].ID)
}
