package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/internal/realtime"
)

// WebSocketHandler handles WebSocket upgrade requests for duel connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	duels             DuelReader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, duels DuelReader) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		duels:             duels,
	}
}

// HandleDuelConnection handles WebSocket connections for a specific duel.
// Only the duel's two participants may join its channel.
func (h *WebSocketHandler) HandleDuelConnection(w http.ResponseWriter, r *http.Request) {
	duelID, err := uuid.Parse(r.URL.Query().Get("duel_id"))
	if err != nil {
		http.Error(w, "invalid duel_id", http.StatusBadRequest)
		return
	}

	// In production the player identity would come from JWT or session
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
		http.Error(w, "not a participant of this duel", http.StatusForbidden)
		return
	}

	member := realtime.Member{
		ID:        playerID,
		Name:      r.URL.Query().Get("name"),
		AvatarURL: r.URL.Query().Get("avatar_url"),
		JoinedAt:  time.Now(),
	}

	if err := h.connectionManager.UpgradeConnection(w, r, member, duelID); err != nil {
		log.Error().
			Err(err).
			Str("duel_id", duelID.String()).
			Str("player_id", playerID.String()).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	w.Write([]byte("{"))
	w.Write([]byte("\"total_connections\":" + strconv.Itoa(stats["total_connections"].(int)) + ","))
	w.Write([]byte("\"active_duels\":" + strconv.Itoa(stats["active_duels"].(int))))
	w.Write([]byte("}"))
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/duel", h.HandleDuelConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
