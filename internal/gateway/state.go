package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/internal/models"
	"github.com/sakirkocak/teknokul-duel/internal/realtime"
	"github.com/sakirkocak/teknokul-duel/internal/scoring"
)

// StateMirror keeps a server-side fold of each watched duel's broadcast
// stream so the REST state endpoint can report live progress next to the
// persisted record. It is an observer only: it never publishes, never paces,
// and its view carries the same best-effort guarantees as any other channel
// subscriber.
type StateMirror struct {
	nc    *nats.Conn
	mu    sync.Mutex
	duels map[uuid.UUID]*duelMirror
}

type duelMirror struct {
	sub  *nats.Subscription
	refs int

	mu    sync.Mutex
	state LiveDuelState
}

// LiveDuelState is the mirrored in-flight view of one duel.
type LiveDuelState struct {
	Phase           string                           `json:"phase"`
	CurrentQuestion int                              `json:"current_question"`
	Players         map[uuid.UUID]models.PlayerState `json:"players"`
	WinnerID        *uuid.UUID                       `json:"winner_id,omitempty"`
	UpdatedAt       time.Time                        `json:"updated_at"`
}

const (
	livePhaseWaiting   = "waiting"
	livePhaseCountdown = "countdown"
	livePhasePlaying   = "playing"
	livePhaseFinished  = "finished"
)

// NewStateMirror creates a mirror over the given NATS connection.
func NewStateMirror(nc *nats.Conn) *StateMirror {
	return &StateMirror{
		nc:    nc,
		duels: make(map[uuid.UUID]*duelMirror),
	}
}

// Retain starts (or reference-counts) the mirror for a duel. Called when a
// client connection registers.
func (m *StateMirror) Retain(duelID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.duels[duelID]; ok {
		entry.refs++
		return nil
	}

	entry := &duelMirror{
		refs: 1,
		state: LiveDuelState{
			Phase:   livePhaseWaiting,
			Players: make(map[uuid.UUID]models.PlayerState),
		},
	}
	sub, err := m.nc.Subscribe(fmt.Sprintf("duel.%s.events", duelID), func(msg *nats.Msg) {
		evt, err := realtime.DecodeEvent(msg.Data)
		if err != nil {
			log.Debug().Err(err).Str("duel_id", duelID.String()).Msg("state mirror dropping malformed event")
			return
		}
		entry.fold(evt)
	})
	if err != nil {
		return fmt.Errorf("subscribe state mirror: %w", err)
	}
	entry.sub = sub
	m.duels[duelID] = entry

	log.Debug().Str("duel_id", duelID.String()).Msg("state mirror started")
	return nil
}

// Release drops one reference; the last release stops the mirror.
func (m *StateMirror) Release(duelID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.duels[duelID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}
	if err := entry.sub.Unsubscribe(); err != nil {
		log.Debug().Err(err).Str("duel_id", duelID.String()).Msg("state mirror unsubscribe failed")
	}
	delete(m.duels, duelID)
	log.Debug().Str("duel_id", duelID.String()).Msg("state mirror stopped")
}

// Live returns the mirrored state for a duel, if it is being watched.
func (m *StateMirror) Live(duelID uuid.UUID) (LiveDuelState, bool) {
	m.mu.Lock()
	entry, ok := m.duels[duelID]
	m.mu.Unlock()
	if !ok {
		return LiveDuelState{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := entry.state
	out.Players = make(map[uuid.UUID]models.PlayerState, len(entry.state.Players))
	for id, p := range entry.state.Players {
		out.Players[id] = p
	}
	return out, true
}

// fold applies one broadcast event, mirroring the peers' own fold rules
// minus any pacing behavior.
func (e *duelMirror) fold(evt realtime.DuelEvent) {
	payload, err := realtime.ParseEventPayload(evt)
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.UpdatedAt = time.Now()

	switch evt.Type {
	case realtime.EventPlayerReady:
		p := e.state.Players[evt.PlayerID]
		p.ID = evt.PlayerID
		p.Ready = true
		e.state.Players[evt.PlayerID] = p

	case realtime.EventGameStart:
		if e.state.Phase == livePhaseWaiting {
			e.state.Phase = livePhaseCountdown
		}

	case realtime.EventQuestionAnswer:
		data := payload.(realtime.QuestionAnswerData)
		if e.state.Phase != livePhasePlaying || data.QuestionIndex != e.state.CurrentQuestion {
			return
		}
		p := e.state.Players[evt.PlayerID]
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
		e.state.Players[evt.PlayerID] = p

	case realtime.EventNextQuestion:
		data := payload.(realtime.NextQuestionData)
		if e.state.Phase != livePhaseCountdown && e.state.Phase != livePhasePlaying {
			return
		}
		e.state.Phase = livePhasePlaying
		e.state.CurrentQuestion = data.QuestionIndex
		for id, p := range e.state.Players {
			p.Answered = false
			p.LastAnswerCorrect = nil
			p.CurrentQuestion = data.QuestionIndex
			e.state.Players[id] = p
		}

	case realtime.EventGameEnd:
		data := payload.(realtime.GameEndData)
		e.state.Phase = livePhaseFinished
		e.state.WinnerID = data.WinnerID
	}
}
