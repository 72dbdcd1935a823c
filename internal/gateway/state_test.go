package gateway

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakirkocak/teknokul-duel/internal/models"
	"github.com/sakirkocak/teknokul-duel/internal/realtime"
)

func newTestMirror() *duelMirror {
	return &duelMirror{
		state: LiveDuelState{
			Phase:   livePhaseWaiting,
			Players: make(map[uuid.UUID]models.PlayerState),
		},
	}
}

func mustEvent(t *testing.T, eventType realtime.EventType, playerID uuid.UUID, payload interface{}) realtime.DuelEvent {
	t.Helper()
	evt, err := realtime.NewEvent(eventType, playerID, payload)
	require.NoError(t, err)
	return evt
}

func TestMirrorFollowsDuelLifecycle(t *testing.T) {
	playerA := uuid.New()
	playerB := uuid.New()
	entry := newTestMirror()

	entry.fold(mustEvent(t, realtime.EventPlayerReady, playerA, nil))
	entry.fold(mustEvent(t, realtime.EventPlayerReady, playerB, nil))
	assert.True(t, entry.state.Players[playerA].Ready)
	assert.True(t, entry.state.Players[playerB].Ready)

	entry.fold(mustEvent(t, realtime.EventGameStart, playerA, realtime.GameStartData{StartTime: 1}))
	assert.Equal(t, livePhaseCountdown, entry.state.Phase)

	entry.fold(mustEvent(t, realtime.EventNextQuestion, playerA, realtime.NextQuestionData{QuestionIndex: 0}))
	assert.Equal(t, livePhasePlaying, entry.state.Phase)

	entry.fold(mustEvent(t, realtime.EventQuestionAnswer, playerA, realtime.QuestionAnswerData{
		Answer: "A", IsCorrect: true, QuestionIndex: 0, TimeMs: 1800,
	}))
	entry.fold(mustEvent(t, realtime.EventQuestionAnswer, playerB, realtime.QuestionAnswerData{
		Answer: "C", IsCorrect: false, QuestionIndex: 0, TimeMs: 2400,
	}))
	assert.Equal(t, 10, entry.state.Players[playerA].Score)
	assert.Equal(t, 0, entry.state.Players[playerB].Score)

	entry.fold(mustEvent(t, realtime.EventNextQuestion, playerA, realtime.NextQuestionData{QuestionIndex: 1}))
	assert.Equal(t, 1, entry.state.CurrentQuestion)
	assert.False(t, entry.state.Players[playerA].Answered)
	assert.Nil(t, entry.state.Players[playerA].LastAnswerCorrect)

	entry.fold(mustEvent(t, realtime.EventGameEnd, playerA, realtime.GameEndData{WinnerID: &playerA}))
	assert.Equal(t, livePhaseFinished, entry.state.Phase)
	require.NotNil(t, entry.state.WinnerID)
	assert.Equal(t, playerA, *entry.state.WinnerID)
}

func TestMirrorIgnoresStaleAnswers(t *testing.T) {
	playerA := uuid.New()
	entry := newTestMirror()

	entry.fold(mustEvent(t, realtime.EventGameStart, playerA, realtime.GameStartData{StartTime: 1}))
	entry.fold(mustEvent(t, realtime.EventNextQuestion, playerA, realtime.NextQuestionData{QuestionIndex: 2}))

	entry.fold(mustEvent(t, realtime.EventQuestionAnswer, playerA, realtime.QuestionAnswerData{
		Answer: "B", IsCorrect: true, QuestionIndex: 1, TimeMs: 900,
	}))
	assert.Equal(t, 0, entry.state.Players[playerA].Score)

	entry.fold(mustEvent(t, realtime.EventQuestionAnswer, playerA, realtime.QuestionAnswerData{
		Answer: "B", IsCorrect: true, QuestionIndex: 2, TimeMs: 900,
	}))
	entry.fold(mustEvent(t, realtime.EventQuestionAnswer, playerA, realtime.QuestionAnswerData{
		Answer: "B", IsCorrect: true, QuestionIndex: 2, TimeMs: 900,
	}))
	assert.Equal(t, 10, entry.state.Players[playerA].Score, "duplicate answer must not score twice")
}
