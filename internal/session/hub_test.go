package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakirkocak/teknokul-duel/internal/realtime"
)

// hub is an in-process duel channel: Publish fans every event out to all
// subscribers, the sender included, mirroring the production transport's
// echo behavior.
type hub struct {
	mu       sync.Mutex
	members  []realtime.Member
	handlers []realtime.Handlers
}

type hubChannel struct {
	h *hub
}

func (h *hub) addMember(m realtime.Member) *hubChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members = append(h.members, m)
	return &hubChannel{h: h}
}

func (h *hub) subscribe(handlers realtime.Handlers) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, handlers)
}

// syncAll delivers the membership snapshot to every subscriber.
func (h *hub) syncAll() {
	h.mu.Lock()
	members := append([]realtime.Member(nil), h.members...)
	handlers := append([]realtime.Handlers(nil), h.handlers...)
	h.mu.Unlock()
	for _, hd := range handlers {
		if hd.OnSync != nil {
			hd.OnSync(members)
		}
	}
}

func (c *hubChannel) Publish(evt realtime.DuelEvent) error {
	c.h.mu.Lock()
	handlers := append([]realtime.Handlers(nil), c.h.handlers...)
	c.h.mu.Unlock()
	for _, hd := range handlers {
		if hd.OnEvent != nil {
			hd.OnEvent(evt)
		}
	}
	return nil
}

func (c *hubChannel) Members() []realtime.Member {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	return append([]realtime.Member(nil), c.h.members...)
}

func (c *hubChannel) MemberCount() int {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	return len(c.h.members)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

// TestTwoPeerDuelEndToEnd drives a full two-question duel through two
// controllers sharing a hub: ready handshake, countdown, both questions,
// scoring, and the winner announcement. Both peers must converge on the
// same final state.
func TestTwoPeerDuelEndToEnd(t *testing.T) {
	clock := clockwork.NewFakeClock()
	playerA := uuid.New()
	playerB := uuid.New()
	d := testDuel(playerA, playerB, 2)

	h := &hub{}
	chA := h.addMember(realtime.Member{ID: playerA, Name: "ayşe", JoinedAt: clock.Now()})
	chB := h.addMember(realtime.Member{ID: playerB, Name: "berk", JoinedAt: clock.Now().Add(time.Millisecond)})

	ctrlA := NewController(d, playerA, chA, clock)
	ctrlB := NewController(d, playerB, chB, clock)
	h.subscribe(ctrlA.Handlers())
	h.subscribe(ctrlB.Handlers())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); ctrlA.Run(ctx) }()
	go func() { defer wg.Done(); ctrlB.Run(ctx) }()

	h.syncAll()
	eventually(t, func() bool {
		return len(ctrlA.Snapshot().Players) == 2 && len(ctrlB.Snapshot().Players) == 2
	}, "both controllers see both players")

	ctrlA.Ready()
	ctrlB.Ready()
	eventually(t, func() bool {
		return ctrlA.Snapshot().Phase == PhaseCountdown && ctrlB.Snapshot().Phase == PhaseCountdown
	}, "host starts the countdown once both are ready")

	clock.Advance(countdownDelay)
	eventually(t, func() bool {
		return ctrlA.Snapshot().Phase == PhasePlaying && ctrlB.Snapshot().Phase == PhasePlaying
	}, "countdown expiry moves both peers to the first question")

	// Question 0: A correct, B wrong.
	ctrlA.SubmitAnswer("A", 1000)
	ctrlB.SubmitAnswer("C", 1500)
	eventually(t, func() bool {
		s := ctrlA.Snapshot()
		return s.Players[playerA].Answered && s.Players[playerB].Answered
	}, "host sees both answers for question 0")

	clock.Advance(resultDisplayDelay)
	eventually(t, func() bool {
		return ctrlA.Snapshot().CurrentQuestion == 1 && ctrlB.Snapshot().CurrentQuestion == 1
	}, "host advances to question 1")

	// Question 1: both correct.
	ctrlA.SubmitAnswer("A", 900)
	ctrlB.SubmitAnswer("A", 1100)
	eventually(t, func() bool {
		s := ctrlA.Snapshot()
		return s.Players[playerA].Answered && s.Players[playerB].Answered
	}, "host sees both answers for question 1")

	clock.Advance(resultDisplayDelay)
	eventually(t, func() bool {
		return ctrlA.Snapshot().Phase == PhaseFinished && ctrlB.Snapshot().Phase == PhaseFinished
	}, "last question ends the duel")

	cancel()
	wg.Wait()

	stateA := ctrlA.Snapshot()
	stateB := ctrlB.Snapshot()
	assert.Equal(t, stateA.Players[playerA].Score, stateB.Players[playerA].Score, "peers agree on A's score")
	assert.Equal(t, stateA.Players[playerB].Score, stateB.Players[playerB].Score, "peers agree on B's score")
	assert.Equal(t, 20, stateA.Players[playerA].Score)
	assert.Equal(t, 10, stateA.Players[playerB].Score)
	require.NotNil(t, stateA.WinnerID)
	assert.Equal(t, playerA, *stateA.WinnerID)
	require.NotNil(t, stateB.WinnerID)
	assert.Equal(t, playerA, *stateB.WinnerID)
}

// TestQuestionTimeoutAdvances covers the host advancing past a silent
// player once the question clock runs out.
func TestQuestionTimeoutAdvances(t *testing.T) {
	clock := clockwork.NewFakeClock()
	playerA := uuid.New()
	playerB := uuid.New()
	d := testDuel(playerA, playerB, 2)

	h := &hub{}
	chA := h.addMember(realtime.Member{ID: playerA, JoinedAt: clock.Now()})
	chB := h.addMember(realtime.Member{ID: playerB, JoinedAt: clock.Now().Add(time.Millisecond)})
	ctrlA := NewController(d, playerA, chA, clock)
	ctrlB := NewController(d, playerB, chB, clock)
	h.subscribe(ctrlA.Handlers())
	h.subscribe(ctrlB.Handlers())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrlA.Run(ctx)
	go ctrlB.Run(ctx)

	h.syncAll()
	ctrlA.Ready()
	ctrlB.Ready()
	eventually(t, func() bool { return ctrlA.Snapshot().Phase == PhaseCountdown }, "countdown begins")
	clock.Advance(countdownDelay)
	eventually(t, func() bool { return ctrlA.Snapshot().Phase == PhasePlaying }, "first question begins")

	// Only A answers; B stays silent until the question clock expires.
	ctrlA.SubmitAnswer("A", 800)
	eventually(t, func() bool { return ctrlA.Snapshot().Players[playerA].Answered }, "A's answer lands")

	clock.Advance(questionTimeLimit)
	eventually(t, func() bool {
		return ctrlA.Snapshot().CurrentQuestion == 1 && ctrlB.Snapshot().CurrentQuestion == 1
	}, "timeout advances both peers")

	state := ctrlA.Snapshot()
	assert.Equal(t, 10, state.Players[playerA].Score)
	assert.Zero(t, state.Players[playerB].Score)
	assert.False(t, state.Players[playerA].Answered, "advance resets answer flags")
}
