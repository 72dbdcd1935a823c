package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/internal/duel"
	"github.com/sakirkocak/teknokul-duel/internal/models"
	"github.com/sakirkocak/teknokul-duel/internal/provisioner"
)

// DuelReader reads duel records for authorization and state queries.
type DuelReader interface {
	GetDuel(ctx context.Context, id uuid.UUID) (*models.Duel, error)
}

// AnswerSubmitter is the server-side answer checkpoint.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, req duel.SubmitAnswerRequest) (*duel.AnswerResult, error)
}

// DuelStarter provisions question sets.
type DuelStarter interface {
	StartDuel(ctx context.Context, duelID, playerID uuid.UUID) (*provisioner.StartDuelResponse, error)
}

// DuelHandler exposes the duel REST surface.
type DuelHandler struct {
	starter   DuelStarter
	submitter AnswerSubmitter
	duels     DuelReader
	mirror    *StateMirror
}

// NewDuelHandler creates the REST handler. mirror may be nil; the state
// endpoint then serves the persisted record alone.
func NewDuelHandler(starter DuelStarter, submitter AnswerSubmitter, duels DuelReader, mirror *StateMirror) *DuelHandler {
	return &DuelHandler{
		starter:   starter,
		submitter: submitter,
		duels:     duels,
		mirror:    mirror,
	}
}

type startDuelRequest struct {
	DuelID   uuid.UUID `json:"duel_id"`
	PlayerID uuid.UUID `json:"player_id"`
}

type submitAnswerRequest struct {
	DuelID        uuid.UUID `json:"duel_id"`
	PlayerID      uuid.UUID `json:"player_id"`
	QuestionIndex int       `json:"question_index"`
	Answer        string    `json:"answer"`
	TimeTakenMs   int       `json:"time_taken_ms"`
}

// HandleStartDuel provisions the duel's question set. Safe to call from both
// participants; the second caller gets the set the first one froze.
func (h *DuelHandler) HandleStartDuel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req startDuelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DuelID == uuid.Nil || req.PlayerID == uuid.Nil {
		http.Error(w, "duel_id and player_id are required", http.StatusBadRequest)
		return
	}

	resp, err := h.starter.StartDuel(r.Context(), req.DuelID, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSubmitAnswer records one player's answer and returns the scored
// result.
func (h *DuelHandler) HandleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DuelID == uuid.Nil || req.PlayerID == uuid.Nil {
		http.Error(w, "duel_id and player_id are required", http.StatusBadRequest)
		return
	}

	result, err := h.submitter.SubmitAnswer(r.Context(), duel.SubmitAnswerRequest{
		DuelID:        req.DuelID,
		PlayerID:      req.PlayerID,
		QuestionIndex: req.QuestionIndex,
		Answer:        req.Answer,
		TimeTakenMs:   req.TimeTakenMs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type duelStateResponse struct {
	Duel *models.Duel   `json:"duel"`
	Live *LiveDuelState `json:"live,omitempty"`
}

// HandleDuelState returns the persisted duel record for a participant, plus
// the mirrored live view while the duel has connected clients.
func (h *DuelHandler) HandleDuelState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	duelID, err := uuid.Parse(r.URL.Query().Get("duel_id"))
	if err != nil {
		http.Error(w, "invalid duel_id", http.StatusBadRequest)
		return
	}
	playerID, err := uuid.Parse(r.URL.Query().Get("player_id"))
	if err != nil {
		http.Error(w, "invalid player_id", http.StatusBadRequest)
		return
	}

	d, err := h.duels.GetDuel(r.Context(), duelID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !d.HasParticipant(playerID) {
		writeError(w, duel.ErrUnauthorized)
		return
	}

	resp := duelStateResponse{Duel: d}
	if h.mirror != nil {
		if live, ok := h.mirror.Live(duelID); ok {
			resp.Live = &live
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterRoutes registers the duel REST routes.
func (h *DuelHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/duel/start", h.HandleStartDuel)
	mux.HandleFunc("/api/duel/answer", h.HandleSubmitAnswer)
	mux.HandleFunc("/api/duel/state", h.HandleDuelState)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the duel error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, duel.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, duel.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, duel.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, duel.ErrInsufficientQuestionPool):
		status = http.StatusConflict
	case errors.Is(err, duel.ErrDuelNotActive), errors.Is(err, duel.ErrInvalidQuestionIndex):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, duel.ErrPersistence):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
