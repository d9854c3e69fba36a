package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections for hunt events. Connections
// are indexed two ways: by group for fan-out, and by user for targeted events
// (a solo player has no group but still receives their own timer events).
type ConnectionManager struct {
	groupConnections map[uuid.UUID]map[*Connection]bool
	userConnections  map[uuid.UUID]map[*Connection]bool
	mu               sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Client command dispatch; nil drops commands
	commands CommandHandler

	// Event broadcasting
	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	UserID  uuid.UUID
	GroupID uuid.UUID // uuid.Nil for solo players
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time
}

// CommandHandler processes messages received from a client connection.
type CommandHandler interface {
	HandleCommand(ctx context.Context, conn *Connection, raw []byte)
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

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	GroupID uuid.UUID
	UserID  uuid.UUID // if set, only send to this user
	Event   *HuntEvent
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024, // 1KB max message size
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	cm := &ConnectionManager{
		groupConnections: make(map[uuid.UUID]map[*Connection]bool),
		userConnections:  make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000), // Buffer for high throughput
	}

	return cm
}

// SetCommandHandler wires the client command dispatcher. Must be called before
// connections are accepted.
func (cm *ConnectionManager) SetCommandHandler(h CommandHandler) {
	cm.commands = h
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID, groupID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		GroupID:     groupID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID.String()).
		Str("group_id", groupID.String()).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.GroupID != uuid.Nil {
		if cm.groupConnections[conn.GroupID] == nil {
			cm.groupConnections[conn.GroupID] = make(map[*Connection]bool)
		}
		cm.groupConnections[conn.GroupID][conn] = true
	}

	if cm.userConnections[conn.UserID] == nil {
		cm.userConnections[conn.UserID] = make(map[*Connection]bool)
	}
	cm.userConnections[conn.UserID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("group_id", conn.GroupID.String()).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	users, exists := cm.userConnections[conn.UserID]
	if !exists || !users[conn] {
		return // already unregistered
	}
	delete(users, conn)
	if len(users) == 0 {
		delete(cm.userConnections, conn.UserID)
	}

	if groups, ok := cm.groupConnections[conn.GroupID]; ok {
		delete(groups, conn)
		if len(groups) == 0 {
			delete(cm.groupConnections, conn.GroupID)
		}
	}

	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID.String()).
		Str("group_id", conn.GroupID.String()).
		Msg("connection unregistered")
}

// BroadcastToGroup sends an event to all connections for a specific group
func (cm *ConnectionManager) BroadcastToGroup(groupID uuid.UUID, event *HuntEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{GroupID: groupID, Event: event}:
	default:
		log.Warn().Str("group_id", groupID.String()).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToUser sends an event to every connection of a specific user
func (cm *ConnectionManager) BroadcastToUser(userID uuid.UUID, event *HuntEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{UserID: userID, Event: event}:
	default:
		log.Warn().
			Str("user_id", userID.String()).
			Msg("broadcast channel full, dropping user message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var pool map[*Connection]bool
	if message.UserID != uuid.Nil {
		pool = cm.userConnections[message.UserID]
	} else {
		pool = cm.groupConnections[message.GroupID]
	}
	if len(pool) == 0 {
		cm.mu.RUnlock()
		return
	}

	// Snapshot to avoid holding the lock during writes
	targetConnections := make([]*Connection, 0, len(pool))
	for conn := range pool {
		targetConnections = append(targetConnections, conn)
	}
	cm.mu.RUnlock()

	// Marshal the event once
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targetConnections {
		conn.send(eventData)
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Int("connections", len(targetConnections)).
		Msg("event broadcasted")
}

// send enqueues data on the connection, closing it when the buffer is full.
func (c *Connection) send(data []byte) {
	select {
	case c.Send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID.String()).
			Msg("connection send buffer full, closing connection")
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}
}

// SendEvent delivers an event to this single connection (command replies).
func (c *Connection) SendEvent(event *HuntEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for connection")
		return
	}
	c.send(data)
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	groupCounts := make(map[string]int)

	for groupID, connections := range cm.groupConnections {
		groupCounts[groupID.String()] = len(connections)
	}
	for _, connections := range cm.userConnections {
		totalConnections += len(connections)
	}

	return map[string]interface{}{
		"total_connections": totalConnections,
		"active_groups":     len(cm.groupConnections),
		"group_connections": groupCounts,
	}
}

// writePump owns all writes on the socket: queued events plus keepalive pings.
// gorilla/websocket allows a single concurrent writer, so everything outbound
// funnels through the Send channel.
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
				// Send was closed by unregister; say goodbye properly.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("write failed, dropping connection")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("keepalive ping failed, dropping connection")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump consumes client frames until the socket errors or closes. Each
// complete message goes to the command handler; pongs and messages both push
// the read deadline forward.
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
					Msg("connection closed unexpectedly")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage dispatches messages received from the client
func (c *Connection) handleClientMessage(message []byte) {
	if c.Manager.commands == nil {
		log.Debug().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID.String()).
			RawJSON("message", message).
			Msg("no command handler configured, dropping client message")
		return
	}
	c.Manager.commands.HandleCommand(context.Background(), c, message)
}
