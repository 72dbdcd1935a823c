package gateway

import (
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Service is the duel gateway: the WebSocket bridge onto duel channels plus
// the REST surface for provisioning, answer checkpoints, and state reads.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	duelHandler       *DuelHandler
}

// Config holds configuration for the duel gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the duel gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new duel gateway service
func NewService(config Config, nc *nats.Conn, starter DuelStarter, submitter AnswerSubmitter, duels DuelReader) *Service {
	mirror := NewStateMirror(nc)
	connectionManager := NewConnectionManager(nc, mirror, config.ConnectionConfig)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, duels),
		duelHandler:       NewDuelHandler(starter, submitter, duels, mirror),
	}
}

// RegisterRoutes registers the gateway's HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.duelHandler.RegisterRoutes(mux)
	log.Info().Msg("duel gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "duel_gateway"
	stats["status"] = "running"
	return stats
}
