package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakirkocak/teknokul-duel/internal/models"
	"github.com/sakirkocak/teknokul-duel/internal/realtime"
)

type stubChannel struct {
	mu        sync.Mutex
	members   []realtime.Member
	published []realtime.DuelEvent
}

func (s *stubChannel) Publish(evt realtime.DuelEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, evt)
	return nil
}

func (s *stubChannel) Members() []realtime.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]realtime.Member(nil), s.members...)
}

func (s *stubChannel) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (s *stubChannel) publishedTypes() []realtime.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]realtime.EventType, len(s.published))
	for i, evt := range s.published {
		types[i] = evt.Type
	}
	return types
}

func testDuel(challenger, opponent uuid.UUID, questions int) *models.Duel {
	d := &models.Duel{
		ID:            uuid.New(),
		ChallengerID:  challenger,
		OpponentID:    opponent,
		Status:        models.DuelStatusActive,
		QuestionCount: questions,
	}
	for i := 0; i < questions; i++ {
		id := "q" + string(rune('0'+i))
		d.Questions = append(d.Questions, models.Question{ID: id})
		d.AnswerKey = append(d.AnswerKey, models.AnswerKeyEntry{QuestionID: id, CorrectAnswer: "A"})
	}
	return d
}

func newFoldFixture(t *testing.T, questions int) (*Controller, *stubChannel, *hostTimers, uuid.UUID, uuid.UUID) {
	t.Helper()
	self := uuid.New()
	opponent := uuid.New()
	clock := clockwork.NewFakeClock()
	ch := &stubChannel{members: []realtime.Member{{ID: self}, {ID: opponent}}}
	c := NewController(testDuel(self, opponent, questions), self, ch, clock)

	timers := &hostTimers{
		countdown: clock.NewTimer(time.Hour),
		question:  clock.NewTimer(time.Hour),
		advance:   clock.NewTimer(time.Hour),
	}
	timers.countdown.Stop()
	timers.question.Stop()
	timers.advance.Stop()
	return c, ch, timers, self, opponent
}

func mustEvent(t *testing.T, eventType realtime.EventType, playerID uuid.UUID, payload interface{}) realtime.DuelEvent {
	t.Helper()
	evt, err := realtime.NewEvent(eventType, playerID, payload)
	require.NoError(t, err)
	return evt
}

func toPlaying(t *testing.T, c *Controller, timers *hostTimers, self, opponent uuid.UUID) {
	t.Helper()
	c.fold(mustEvent(t, realtime.EventGameStart, self, realtime.GameStartData{StartTime: time.Now().UnixMilli()}), timers)
	c.fold(mustEvent(t, realtime.EventNextQuestion, self, realtime.NextQuestionData{QuestionIndex: 0}), timers)
	require.Equal(t, PhasePlaying, c.Snapshot().Phase)
	_ = opponent
}

func TestFoldAppliesScoreToEmitterOnly(t *testing.T) {
	c, _, timers, self, opponent := newFoldFixture(t, 3)
	toPlaying(t, c, timers, self, opponent)

	c.fold(mustEvent(t, realtime.EventQuestionAnswer, opponent, realtime.QuestionAnswerData{
		Answer: "A", IsCorrect: true, QuestionIndex: 0, TimeMs: 1200,
	}), timers)

	state := c.Snapshot()
	assert.Equal(t, 10, state.Players[opponent].Score)
	assert.Equal(t, 1, state.Players[opponent].Streak)
	assert.True(t, state.Players[opponent].Answered)
	assert.Zero(t, state.Players[self].Score)
	assert.False(t, state.Players[self].Answered)
}

func TestFoldIgnoresDuplicateAnswer(t *testing.T) {
	c, _, timers, self, opponent := newFoldFixture(t, 3)
	toPlaying(t, c, timers, self, opponent)

	answer := realtime.QuestionAnswerData{Answer: "A", IsCorrect: true, QuestionIndex: 0}
	c.fold(mustEvent(t, realtime.EventQuestionAnswer, opponent, answer), timers)
	c.fold(mustEvent(t, realtime.EventQuestionAnswer, opponent, answer), timers)

	assert.Equal(t, 10, c.Snapshot().Players[opponent].Score, "replayed answer must not double-count")
}

func TestFoldIgnoresAnswerForWrongQuestion(t *testing.T) {
	c, _, timers, self, opponent := newFoldFixture(t, 3)
	toPlaying(t, c, timers, self, opponent)

	c.fold(mustEvent(t, realtime.EventQuestionAnswer, opponent, realtime.QuestionAnswerData{
		Answer: "A", IsCorrect: true, QuestionIndex: 2,
	}), timers)

	assert.Zero(t, c.Snapshot().Players[opponent].Score)
}

func TestFoldNextQuestionResetsAnswerFlags(t *testing.T) {
	c, _, timers, self, opponent := newFoldFixture(t, 3)
	toPlaying(t, c, timers, self, opponent)

	c.fold(mustEvent(t, realtime.EventQuestionAnswer, self, realtime.QuestionAnswerData{
		Answer: "A", IsCorrect: true, QuestionIndex: 0,
	}), timers)
	c.fold(mustEvent(t, realtime.EventNextQuestion, self, realtime.NextQuestionData{QuestionIndex: 1}), timers)

	state := c.Snapshot()
	assert.Equal(t, 1, state.CurrentQuestion)
	assert.False(t, state.Players[self].Answered)
	assert.Nil(t, state.Players[self].LastAnswerCorrect)
	assert.Equal(t, 10, state.Players[self].Score, "score survives question advance")
	assert.Equal(t, 1, state.Players[self].Streak, "streak survives question advance")
}

func TestFoldComboAcrossQuestions(t *testing.T) {
	c, _, timers, self, opponent := newFoldFixture(t, 5)
	toPlaying(t, c, timers, self, opponent)

	// Three correct answers in a row; the third crosses the combo threshold.
	for i := 0; i < 3; i++ {
		c.fold(mustEvent(t, realtime.EventQuestionAnswer, self, realtime.QuestionAnswerData{
			Answer: "A", IsCorrect: true, QuestionIndex: i,
		}), timers)
		c.fold(mustEvent(t, realtime.EventNextQuestion, self, realtime.NextQuestionData{QuestionIndex: i + 1}), timers)
	}

	assert.Equal(t, 10+10+15, c.Snapshot().Players[self].Score)
}

func TestFoldGameEndIsTerminal(t *testing.T) {
	c, _, timers, self, opponent := newFoldFixture(t, 3)
	toPlaying(t, c, timers, self, opponent)

	winner := opponent
	c.fold(mustEvent(t, realtime.EventGameEnd, self, realtime.GameEndData{WinnerID: &winner}), timers)
	require.Equal(t, PhaseFinished, c.Snapshot().Phase)
	require.NotNil(t, c.Snapshot().WinnerID)
	assert.Equal(t, winner, *c.Snapshot().WinnerID)

	// Events after game_end fold into nothing.
	c.fold(mustEvent(t, realtime.EventQuestionAnswer, self, realtime.QuestionAnswerData{
		Answer: "A", IsCorrect: true, QuestionIndex: 0,
	}), timers)
	assert.Zero(t, c.Snapshot().Players[self].Score)
}

func TestHostSchedulesStartWhenBothReady(t *testing.T) {
	c, ch, timers, self, opponent := newFoldFixture(t, 3)

	c.fold(mustEvent(t, realtime.EventPlayerReady, opponent, nil), timers)
	assert.Empty(t, ch.publishedTypes(), "one ready player is not enough")

	c.fold(mustEvent(t, realtime.EventPlayerReady, self, nil), timers)
	require.Equal(t, []realtime.EventType{realtime.EventGameStart}, ch.publishedTypes())
}

func TestThirdPresenceKeyHoldsStart(t *testing.T) {
	c, ch, timers, self, opponent := newFoldFixture(t, 3)

	// A stray third presence key on the channel.
	ch.mu.Lock()
	ch.members = append(ch.members, realtime.Member{ID: uuid.New()})
	ch.mu.Unlock()

	c.fold(mustEvent(t, realtime.EventPlayerReady, opponent, nil), timers)
	c.fold(mustEvent(t, realtime.EventPlayerReady, self, nil), timers)

	assert.Empty(t, ch.publishedTypes(), "three presence keys must not start the duel")
	assert.Equal(t, PhaseWaiting, c.Snapshot().Phase)
}

func TestNonHostNeverSchedulesStart(t *testing.T) {
	self := uuid.New()
	opponent := uuid.New()
	clock := clockwork.NewFakeClock()
	// Opponent occupies the first presence slot.
	ch := &stubChannel{members: []realtime.Member{{ID: opponent}, {ID: self}}}
	c := NewController(testDuel(self, opponent, 3), self, ch, clock)
	timers := &hostTimers{
		countdown: clock.NewTimer(time.Hour),
		question:  clock.NewTimer(time.Hour),
		advance:   clock.NewTimer(time.Hour),
	}

	c.fold(mustEvent(t, realtime.EventPlayerReady, opponent, nil), timers)
	c.fold(mustEvent(t, realtime.EventPlayerReady, self, nil), timers)
	assert.Empty(t, ch.publishedTypes())
}

func TestOpponentLeaveEndsGameForRemainingPlayer(t *testing.T) {
	c, ch, timers, self, opponent := newFoldFixture(t, 3)
	toPlaying(t, c, timers, self, opponent)

	c.applyPresence(presenceUpdate{kind: presenceLeft, member: realtime.Member{ID: opponent}}, timers)

	types := ch.publishedTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, realtime.EventGameEnd, types[len(types)-1])

	ch.mu.Lock()
	last := ch.published[len(ch.published)-1]
	ch.mu.Unlock()
	payload, err := realtime.ParseEventPayload(last)
	require.NoError(t, err)
	require.NotNil(t, payload.(realtime.GameEndData).WinnerID)
	assert.Equal(t, self, *payload.(realtime.GameEndData).WinnerID)
}

func TestFoldToleratesMalformedPayload(t *testing.T) {
	c, _, timers, self, opponent := newFoldFixture(t, 3)
	toPlaying(t, c, timers, self, opponent)

	c.fold(realtime.DuelEvent{
		Type:     realtime.EventQuestionAnswer,
		PlayerID: opponent,
		Data:     []byte(`{"answer":`),
	}, timers)

	assert.Equal(t, PhasePlaying, c.Snapshot().Phase)
	assert.Zero(t, c.Snapshot().Players[opponent].Score)
}
