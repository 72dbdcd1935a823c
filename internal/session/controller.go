// Package session runs one peer's view of a live duel. Each connected client
// gets a Controller that folds the duel channel's broadcast stream into local
// game state; there is no central game server. The peer occupying the first
// presence slot acts as host and is the only one emitting pacing events, so
// the pacing stream has a single writer.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/internal/models"
	"github.com/sakirkocak/teknokul-duel/internal/realtime"
	"github.com/sakirkocak/teknokul-duel/internal/scoring"
)

const (
	// countdownDelay is how far in the future the host schedules game start,
	// giving both peers time to render the countdown.
	countdownDelay = 3 * time.Second

	// questionTimeLimit bounds one question. The host advances past a player
	// who never answers.
	questionTimeLimit = 30 * time.Second

	// resultDisplayDelay is the pause between both answers landing and the
	// host advancing, so players see the per-question result.
	resultDisplayDelay = 2 * time.Second

	eventBuffer = 64
)

// Channel is what the controller needs from the duel channel. Satisfied by
// *realtime.Channel and by test doubles.
type Channel interface {
	Publish(realtime.DuelEvent) error
	Members() []realtime.Member
	MemberCount() int
}

// Controller is one peer's session state machine. All state mutation happens
// on the Run goroutine; the channel callbacks and public methods only enqueue.
type Controller struct {
	duel   *models.Duel
	selfID uuid.UUID
	ch     Channel
	clock  clockwork.Clock

	events   chan realtime.DuelEvent
	presence chan presenceUpdate
	commands chan func()

	mu    sync.Mutex
	state GameState
}

type presenceKind int

const (
	presenceJoined presenceKind = iota
	presenceLeft
	presenceSynced
)

type presenceUpdate struct {
	kind    presenceKind
	member  realtime.Member
	members []realtime.Member
}

// NewController creates a controller for one participant. The duel must be
// provisioned: the answer key drives local answer validation.
func NewController(d *models.Duel, selfID uuid.UUID, ch Channel, clock clockwork.Clock) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		duel:     d,
		selfID:   selfID,
		ch:       ch,
		clock:    clock,
		events:   make(chan realtime.DuelEvent, eventBuffer),
		presence: make(chan presenceUpdate, eventBuffer),
		commands: make(chan func(), eventBuffer),
		state: GameState{
			Phase:   PhaseWaiting,
			Players: make(map[uuid.UUID]models.PlayerState),
		},
	}
}

// Handlers returns the channel callbacks wired to this controller. Pass them
// to realtime.Join.
func (c *Controller) Handlers() realtime.Handlers {
	return realtime.Handlers{
		OnEvent: c.enqueueEvent,
		OnJoin:  func(m realtime.Member) { c.enqueuePresence(presenceUpdate{kind: presenceJoined, member: m}) },
		OnLeave: func(m realtime.Member) { c.enqueuePresence(presenceUpdate{kind: presenceLeft, member: m}) },
		OnSync:  func(ms []realtime.Member) { c.enqueuePresence(presenceUpdate{kind: presenceSynced, members: ms}) },
	}
}

func (c *Controller) enqueueEvent(evt realtime.DuelEvent) {
	select {
	case c.events <- evt:
	default:
		log.Warn().Str("duel_id", c.duel.ID.String()).Str("type", string(evt.Type)).Msg("event buffer full, dropping")
	}
}

func (c *Controller) enqueuePresence(pu presenceUpdate) {
	select {
	case c.presence <- pu:
	default:
		log.Warn().Str("duel_id", c.duel.ID.String()).Msg("presence buffer full, dropping")
	}
}

// Ready marks the local player ready. The flag lands on state when the
// published event echoes back.
func (c *Controller) Ready() {
	c.commands <- func() {
		c.publish(realtime.EventPlayerReady, nil)
	}
}

// SubmitAnswer validates the local player's answer against the frozen key
// and broadcasts it. Ignored outside the playing phase or after the local
// player already answered the current question.
func (c *Controller) SubmitAnswer(answer string, timeMs int) {
	c.commands <- func() {
		c.mu.Lock()
		phase := c.state.Phase
		idx := c.state.CurrentQuestion
		answered := c.state.player(c.selfID).Answered
		c.mu.Unlock()

		if phase != PhasePlaying || answered {
			return
		}
		if idx < 0 || idx >= len(c.duel.AnswerKey) {
			return
		}
		correct := strings.EqualFold(answer, c.duel.AnswerKey[idx].CorrectAnswer)
		c.publish(realtime.EventQuestionAnswer, realtime.QuestionAnswerData{
			Answer:        answer,
			IsCorrect:     correct,
			QuestionIndex: idx,
			TimeMs:        timeMs,
		})
	}
}

// Snapshot returns a copy of the current game state.
func (c *Controller) Snapshot() GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// isHost reports whether the local peer occupies the first presence slot.
// Host assignment follows presence, so it migrates if the original host
// drops out.
func (c *Controller) isHost() bool {
	members := c.ch.Members()
	return len(members) > 0 && members[0].ID == c.selfID
}

// Run folds events until the context ends or the duel finishes. It is the
// only goroutine that mutates state.
func (c *Controller) Run(ctx context.Context) {
	countdownTimer := c.clock.NewTimer(time.Hour)
	countdownTimer.Stop()
	questionTimer := c.clock.NewTimer(time.Hour)
	questionTimer.Stop()
	advanceTimer := c.clock.NewTimer(time.Hour)
	advanceTimer.Stop()
	defer countdownTimer.Stop()
	defer questionTimer.Stop()
	defer advanceTimer.Stop()

	timers := &hostTimers{countdown: countdownTimer, question: questionTimer, advance: advanceTimer}

	for {
		select {
		case <-ctx.Done():
			return

		case evt := <-c.events:
			c.fold(evt, timers)

		case pu := <-c.presence:
			c.applyPresence(pu, timers)

		case fn := <-c.commands:
			fn()

		case <-countdownTimer.Chan():
			c.hostAdvanceTo(0)

		case <-questionTimer.Chan():
			c.hostAdvancePastCurrent("question timeout")

		case <-advanceTimer.Chan():
			c.hostAdvancePastCurrent("both answered")
		}

		if c.finished() {
			return
		}
	}
}

type hostTimers struct {
	countdown clockwork.Timer
	question  clockwork.Timer
	advance   clockwork.Timer
}

func (c *Controller) finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase == PhaseFinished
}

// fold applies one broadcast event to local state. Every peer, the emitter
// included, applies the identical logic to the identical stream.
func (c *Controller) fold(evt realtime.DuelEvent, timers *hostTimers) {
	payload, err := realtime.ParseEventPayload(evt)
	if err != nil {
		log.Debug().Err(err).Str("duel_id", c.duel.ID.String()).Msg("dropping malformed event payload")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.LastEventLatency = evt.Latency(c.clock.Now())

	switch evt.Type {
	case realtime.EventPlayerReady:
		p := c.state.player(evt.PlayerID)
		p.ID = evt.PlayerID
		p.Ready = true
		c.state.setPlayer(p)
		c.maybeScheduleStart()

	case realtime.EventGameStart:
		if c.state.Phase != PhaseWaiting {
			return
		}
		data := payload.(realtime.GameStartData)
		c.state.Phase = PhaseCountdown
		c.state.StartAt = time.UnixMilli(data.StartTime)
		if c.isHostLocked() {
			delay := c.state.StartAt.Sub(c.clock.Now())
			if delay < 0 {
				delay = 0
			}
			timers.countdown.Reset(delay)
		}

	case realtime.EventQuestionAnswer:
		data := payload.(realtime.QuestionAnswerData)
		if data.QuestionIndex != c.state.CurrentQuestion || c.state.Phase != PhasePlaying {
			return
		}
		p := c.state.player(evt.PlayerID)
		if p.Answered {
			return
		}
		p.ID = evt.PlayerID
		p.Answered = true
		correct := data.IsCorrect
		p.LastAnswerCorrect = &correct
		p.LastAnswerTimeMs = data.TimeMs
		result := scoring.Score(data.IsCorrect, p.Streak)
		p.Score += result.Total()
		p.Streak = result.NewStreak
		c.state.setPlayer(p)

		if c.state.bothAnswered() && c.isHostLocked() {
			timers.question.Stop()
			timers.advance.Reset(resultDisplayDelay)
		}

	case realtime.EventNextQuestion:
		data := payload.(realtime.NextQuestionData)
		if c.state.Phase != PhaseCountdown && c.state.Phase != PhasePlaying {
			return
		}
		c.state.Phase = PhasePlaying
		c.state.CurrentQuestion = data.QuestionIndex
		c.state.QuestionStartAt = time.UnixMilli(data.StartTime)
		for id, p := range c.state.Players {
			p.Answered = false
			p.LastAnswerCorrect = nil
			p.CurrentQuestion = data.QuestionIndex
			c.state.Players[id] = p
		}
		if c.isHostLocked() {
			timers.advance.Stop()
			timers.question.Reset(questionTimeLimit)
		}

	case realtime.EventGameEnd:
		data := payload.(realtime.GameEndData)
		c.state.Phase = PhaseFinished
		c.state.WinnerID = data.WinnerID
		timers.countdown.Stop()
		timers.question.Stop()
		timers.advance.Stop()
		log.Info().
			Str("duel_id", c.duel.ID.String()).
			Interface("winner_id", data.WinnerID).
			Msg("duel finished")

	case realtime.EventPlayerDisconnect:
		if evt.PlayerID == c.selfID {
			return
		}
		c.state.OpponentConnected = false
		c.endForAbandonmentLocked()
	}
}

func (c *Controller) applyPresence(pu presenceUpdate, timers *hostTimers) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch pu.kind {
	case presenceJoined:
		p := c.state.player(pu.member.ID)
		p.ID = pu.member.ID
		p.Name = pu.member.Name
		p.AvatarURL = pu.member.AvatarURL
		joined := pu.member.JoinedAt
		p.JoinedAt = &joined
		c.state.setPlayer(p)
		if pu.member.ID != c.selfID {
			c.state.OpponentConnected = true
		}
		c.maybeScheduleStart()

	case presenceLeft:
		if pu.member.ID == c.selfID {
			return
		}
		c.state.OpponentConnected = false
		c.endForAbandonmentLocked()

	case presenceSynced:
		for _, m := range pu.members {
			p := c.state.player(m.ID)
			p.ID = m.ID
			p.Name = m.Name
			p.AvatarURL = m.AvatarURL
			joined := m.JoinedAt
			p.JoinedAt = &joined
			c.state.setPlayer(p)
			if m.ID != c.selfID {
				c.state.OpponentConnected = true
			}
		}
		c.maybeScheduleStart()
	}
}

// maybeScheduleStart fires game_start once both participants are present and
// ready. Host only; callers hold the state lock.
func (c *Controller) maybeScheduleStart() {
	if c.state.Phase != PhaseWaiting || !c.state.bothReady() {
		return
	}
	// Exactly the two participants. A third presence key means the channel
	// is in a state the duel protocol does not define, so hold in waiting.
	if c.ch.MemberCount() != 2 || !c.isHostLocked() {
		return
	}
	c.publish(realtime.EventGameStart, realtime.GameStartData{
		StartTime: c.clock.Now().Add(countdownDelay).UnixMilli(),
	})
}

// endForAbandonmentLocked finishes the duel in favor of the remaining player
// when the opponent disappears mid-game. The remaining peer is by definition
// the sole member, so it is the host.
func (c *Controller) endForAbandonmentLocked() {
	if c.state.Phase != PhaseCountdown && c.state.Phase != PhasePlaying {
		return
	}
	winner := c.selfID
	c.publish(realtime.EventGameEnd, realtime.GameEndData{WinnerID: &winner})
}

// hostAdvanceTo publishes the transition to the given question index.
func (c *Controller) hostAdvanceTo(index int) {
	c.publish(realtime.EventNextQuestion, realtime.NextQuestionData{
		QuestionIndex: index,
		StartTime:     c.clock.Now().UnixMilli(),
	})
}

// hostAdvancePastCurrent moves beyond the current question: to the next one,
// or to game end with the winner computed from folded scores.
func (c *Controller) hostAdvancePastCurrent(reason string) {
	c.mu.Lock()
	if c.state.Phase != PhasePlaying {
		c.mu.Unlock()
		return
	}
	idx := c.state.CurrentQuestion
	last := idx >= len(c.duel.Questions)-1
	winner := c.winnerLocked()
	c.mu.Unlock()

	log.Debug().
		Str("duel_id", c.duel.ID.String()).
		Int("question_index", idx).
		Str("reason", reason).
		Msg("advancing duel")

	if last {
		c.publish(realtime.EventGameEnd, realtime.GameEndData{WinnerID: winner})
		return
	}
	c.hostAdvanceTo(idx + 1)
}

// winnerLocked computes the winner from folded scores, nil for a tie.
func (c *Controller) winnerLocked() *uuid.UUID {
	var best *uuid.UUID
	bestScore := -1
	tie := false
	for id, p := range c.state.Players {
		switch {
		case p.Score > bestScore:
			bestScore = p.Score
			winner := id
			best = &winner
			tie = false
		case p.Score == bestScore:
			tie = true
		}
	}
	if tie {
		return nil
	}
	return best
}

// isHostLocked is isHost for callers already holding the state lock. The
// membership snapshot comes from the channel's own table, so no state access
// is involved.
func (c *Controller) isHostLocked() bool {
	members := c.ch.Members()
	return len(members) > 0 && members[0].ID == c.selfID
}

func (c *Controller) publish(eventType realtime.EventType, payload interface{}) {
	evt, err := realtime.NewEvent(eventType, c.selfID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("building event failed")
		return
	}
	if err := c.ch.Publish(evt); err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("publishing event failed")
	}
}
