package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/auth"
	"github.com/mcdev12/questhunt/go/internal/hunt/events"
	"github.com/mcdev12/questhunt/go/internal/hunt/timer"
	"github.com/rs/zerolog/log"
)

// TimerService is the slice of the timer engine the gateway drives.
type TimerService interface {
	StartTimer(ctx context.Context, actor auth.Actor, userID, challengeID uuid.UUID) (*timer.StartResult, error)
	ExtendTimer(ctx context.Context, actor auth.Actor, userID, challengeID uuid.UUID) (*timer.ExtendResult, error)
	CompleteTimer(ctx context.Context, actor auth.Actor, userID, challengeID uuid.UUID) (*timer.CompleteResult, error)
}

// WebSocketHandler handles WebSocket upgrade requests for hunt connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleHuntConnection handles WebSocket connections for a player
func (h *WebSocketHandler) HandleHuntConnection(w http.ResponseWriter, r *http.Request) {
	// In production user identity would come from JWT token or session
	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		http.Error(w, "invalid user_id format", http.StatusBadRequest)
		return
	}

	// group_id is optional: solo players connect without one
	groupID := uuid.Nil
	if groupIDStr := r.URL.Query().Get("group_id"); groupIDStr != "" {
		groupID, err = uuid.Parse(groupIDStr)
		if err != nil {
			http.Error(w, "invalid group_id format", http.StatusBadRequest)
			return
		}
	}

	if err := h.connectionManager.UpgradeConnection(w, r, userID, groupID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID.String()).
			Str("group_id", groupID.String()).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}

	// Connection is now handled by the connection manager
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	w.Write([]byte("{"))
	w.Write([]byte("\"total_connections\":" + strconv.Itoa(stats["total_connections"].(int)) + ","))
	w.Write([]byte("\"active_groups\":" + strconv.Itoa(stats["active_groups"].(int))))
	w.Write([]byte("}"))
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/hunt", h.HandleHuntConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

// Client command actions.
const (
	ActionStartChallengeTimer = "startChallengeTimer"
	ActionExtendTimer         = "extendTimer"
	ActionCompleteTimer       = "completeTimer"
)

// ClientCommand is the envelope clients send over the WebSocket.
type ClientCommand struct {
	Action      string `json:"action"`
	ChallengeID string `json:"challenge_id"`
	RequestID   string `json:"request_id,omitempty"`
}

// CommandRouter dispatches client commands to the timer engine. Success is
// observable through the resulting broadcast events; only failures are
// reported back, directly on the requesting connection.
type CommandRouter struct {
	timers  TimerService
	timeout time.Duration
}

// NewCommandRouter creates a command router over the timer engine.
func NewCommandRouter(timers TimerService, timeout time.Duration) *CommandRouter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandRouter{timers: timers, timeout: timeout}
}

func (cr *CommandRouter) HandleCommand(ctx context.Context, conn *Connection, raw []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		cr.sendError(conn, cmd, "malformed command")
		return
	}

	challengeID, err := uuid.Parse(cmd.ChallengeID)
	if err != nil {
		cr.sendError(conn, cmd, "invalid challenge_id")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, cr.timeout)
	defer cancel()

	actor := auth.Player{ID: conn.UserID}

	switch cmd.Action {
	case ActionStartChallengeTimer:
		_, err = cr.timers.StartTimer(ctx, actor, conn.UserID, challengeID)
	case ActionExtendTimer:
		_, err = cr.timers.ExtendTimer(ctx, actor, conn.UserID, challengeID)
	case ActionCompleteTimer:
		var res *timer.CompleteResult
		res, err = cr.timers.CompleteTimer(ctx, actor, conn.UserID, challengeID)
		if err == nil && !res.ChallengeCompleted {
			// Nothing changed, so no event will arrive over the bus; the
			// caller still gets told the completion resolved to a no-op.
			cr.sendCompletionNoop(conn, res)
		}
	default:
		cr.sendError(conn, cmd, "unknown action")
		return
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("action", cmd.Action).
			Str("user_id", conn.UserID.String()).
			Str("challenge_id", cmd.ChallengeID).
			Msg("client command rejected")
		cr.sendError(conn, cmd, commandErrorMessage(err))
		return
	}

	log.Debug().
		Str("action", cmd.Action).
		Str("user_id", conn.UserID.String()).
		Str("challenge_id", cmd.ChallengeID).
		Msg("client command accepted")
}

// commandErrorMessage maps engine errors to client-safe messages.
func commandErrorMessage(err error) string {
	switch {
	case errors.Is(err, timer.ErrNoTimerConfigured):
		return "challenge has no timer"
	case errors.Is(err, timer.ErrTimerNotFound):
		return "timer not found"
	case errors.Is(err, timer.ErrInsufficientPoints):
		return "not enough points to extend"
	case errors.Is(err, timer.ErrPermissionDenied):
		return "not permitted"
	default:
		return "internal error"
	}
}

// sendCompletionNoop replies directly on the requesting connection when a
// completion resolved without completing the challenge (double tap, timer
// already completed). Successful completions reach the client through the
// regular event pipeline instead.
func (cr *CommandRouter) sendCompletionNoop(conn *Connection, res *timer.CompleteResult) {
	data, err := json.Marshal(events.TimerCompletedPayload{
		TimerID:            res.TimerID,
		ChallengeID:        res.ChallengeID,
		ChallengeCompleted: false,
		CompletedAt:        time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal completion reply")
		return
	}
	groupID := ""
	if conn.GroupID != uuid.Nil {
		groupID = conn.GroupID.String()
	}
	conn.SendEvent(&HuntEvent{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		Type:      EventTypeTimerCompleted,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (cr *CommandRouter) sendError(conn *Connection, cmd ClientCommand, message string) {
	data, err := json.Marshal(CommandErrorData{
		RequestID: cmd.RequestID,
		Action:    cmd.Action,
		Message:   message,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal command error")
		return
	}
	groupID := ""
	if conn.GroupID != uuid.Nil {
		groupID = conn.GroupID.String()
	}
	conn.SendEvent(&HuntEvent{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		Type:      EventTypeCommandError,
		Timestamp: time.Now(),
		Data:      data,
	})
}
