package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/internal/realtime"
)

// ConnectionManager owns the WebSocket side of the duel bridge. Each client
// connection joins the duel's pub/sub channel on the player's behalf:
// everything the client sends is published to the channel, everything the
// channel delivers is written back out. The gateway adds no game logic; the
// peers' session controllers do the folding.
type ConnectionManager struct {
	// Connection pools organized by duel ID
	duelConnections map[uuid.UUID]map[*Connection]bool
	mu              sync.RWMutex

	nc       *nats.Conn
	mirror   *StateMirror
	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection represents one client's WebSocket plus its channel membership.
type Connection struct {
	ID       string
	PlayerID uuid.UUID
	DuelID   uuid.UUID
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager
	Channel  *realtime.Channel

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// ClientMessage is the downstream wire format: one envelope per channel
// happening, so the browser client folds the same stream a native channel
// subscriber would.
type ClientMessage struct {
	Kind    string               `json:"kind"` // event, presence_join, presence_leave, presence_sync
	Event   *realtime.DuelEvent  `json:"event,omitempty"`
	Member  *realtime.Member     `json:"member,omitempty"`
	Members []realtime.Member    `json:"members,omitempty"`
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(nc *nats.Conn, mirror *StateMirror, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		duelConnections: make(map[uuid.UUID]map[*Connection]bool),
		nc:              nc,
		mirror:          mirror,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and joins the
// duel channel as the given player.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, member realtime.Member, duelID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    member.ID,
		DuelID:      duelID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	channel, err := realtime.Join(cm.nc, duelID, member, connection.channelHandlers(), realtime.DefaultChannelConfig(), nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to join duel channel: %w", err)
	}
	connection.Channel = channel

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("player_id", member.ID.String()).
		Str("duel_id", duelID.String()).
		Msg("WebSocket connection established")

	return nil
}

// channelHandlers forwards channel happenings onto the connection's send
// queue as downstream envelopes.
func (c *Connection) channelHandlers() realtime.Handlers {
	return realtime.Handlers{
		OnEvent: func(evt realtime.DuelEvent) {
			c.forward(ClientMessage{Kind: "event", Event: &evt})
		},
		OnJoin: func(m realtime.Member) {
			c.forward(ClientMessage{Kind: "presence_join", Member: &m})
		},
		OnLeave: func(m realtime.Member) {
			c.forward(ClientMessage{Kind: "presence_leave", Member: &m})
		},
		OnSync: func(members []realtime.Member) {
			c.forward(ClientMessage{Kind: "presence_sync", Members: members})
		},
	}
}

func (c *Connection) forward(msg ClientMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal client message")
		return
	}
	select {
	case c.Send <- data:
	default:
		// Connection is slow/dead, close it
		log.Warn().
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID.String()).
			Msg("connection send buffer full, closing connection")
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.duelConnections[conn.DuelID] == nil {
		cm.duelConnections[conn.DuelID] = make(map[*Connection]bool)
	}
	cm.duelConnections[conn.DuelID][conn] = true

	if cm.mirror != nil {
		if err := cm.mirror.Retain(conn.DuelID); err != nil {
			log.Warn().Err(err).Str("duel_id", conn.DuelID.String()).Msg("failed to start state mirror")
		}
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("duel_id", conn.DuelID.String()).
		Int("total_connections", len(cm.duelConnections[conn.DuelID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager and leaves its
// duel channel, which broadcasts the player's departure.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.duelConnections[conn.DuelID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)
			if conn.Channel != nil {
				go conn.Channel.Leave()
			}
			if cm.mirror != nil {
				cm.mirror.Release(conn.DuelID)
			}

			// Clean up empty duel connection pools
			if len(connections) == 0 {
				delete(cm.duelConnections, conn.DuelID)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("player_id", conn.PlayerID.String()).
				Str("duel_id", conn.DuelID.String()).
				Msg("connection unregistered")
		}
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	duelCounts := make(map[string]int)

	for duelID, connections := range cm.duelConnections {
		count := len(connections)
		totalConnections += count
		duelCounts[duelID.String()] = count
	}

	return map[string]interface{}{
		"total_connections": totalConnections,
		"active_duels":      len(cm.duelConnections),
		"duel_connections":  duelCounts,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage publishes a client-sent duel event onto the channel.
// The sender identity always comes from the connection, never from the
// payload.
func (c *Connection) handleClientMessage(message []byte) {
	evt, err := realtime.DecodeEvent(message)
	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID.String()).
			Msg("dropping malformed client event")
		return
	}
	evt.PlayerID = c.PlayerID

	if err := c.Channel.Publish(evt); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Str("type", string(evt.Type)).
			Msg("failed to publish client event")
	}
}
