package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/timer"
	"github.com/mcdev12/questhunt/go/internal/models"
	"github.com/rs/zerolog/log"
)

// TrackerProvider exposes journey progress for the polling fallback.
type TrackerProvider interface {
	Tracker(ctx context.Context, userID, journeyID uuid.UUID) (*models.JourneyTracker, error)
}

// TimerProvider exposes timer rows for the polling fallback.
type TimerProvider interface {
	Timer(ctx context.Context, userID, challengeID uuid.UUID) (*models.ChallengeTimer, error)
}

// HuntStateResponse is the poll snapshot for one player in one journey.
// Clients that lose their WebSocket re-sync from this.
type HuntStateResponse struct {
	UserID                string          `json:"user_id"`
	JourneyID             string          `json:"journey_id"`
	Score                 int             `json:"score"`
	CurChallengeID        string          `json:"cur_challenge_id,omitempty"`
	CompletedChallengeIDs []string        `json:"completed_challenge_ids"`
	JourneyComplete       bool            `json:"journey_complete"`
	Timer                 *TimerStateInfo `json:"timer,omitempty"`
}

// TimerStateInfo is the timer slice of a state snapshot
type TimerStateInfo struct {
	TimerID          string    `json:"timer_id"`
	ChallengeID      string    `json:"challenge_id"`
	Status           string    `json:"status"`
	EndTime          time.Time `json:"end_time"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
	ExtensionsUsed   int       `json:"extensions_used"`
}

// StateHandler handles HTTP requests for hunt state
type StateHandler struct {
	trackers TrackerProvider
	timers   TimerProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(trackers TrackerProvider, timers TimerProvider) *StateHandler {
	return &StateHandler{
		trackers: trackers,
		timers:   timers,
	}
}

// HandleGetHuntState handles GET /hunt/state?user_id=...&journey_id=...
func (h *StateHandler) HandleGetHuntState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		http.Error(w, "valid user_id is required", http.StatusBadRequest)
		return
	}
	journeyID, err := uuid.Parse(r.URL.Query().Get("journey_id"))
	if err != nil {
		http.Error(w, "valid journey_id is required", http.StatusBadRequest)
		return
	}

	tracker, err := h.trackers.Tracker(r.Context(), userID, journeyID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to get tracker state")
		http.Error(w, "Failed to get hunt state", http.StatusInternalServerError)
		return
	}

	state := &HuntStateResponse{
		UserID:                userID.String(),
		JourneyID:             journeyID.String(),
		Score:                 tracker.Score,
		CompletedChallengeIDs: make([]string, 0, len(tracker.CompletedChallengeIDs)),
		JourneyComplete:       tracker.JourneyComplete(),
	}
	for _, id := range tracker.CompletedChallengeIDs {
		state.CompletedChallengeIDs = append(state.CompletedChallengeIDs, id.String())
	}

	if !tracker.JourneyComplete() {
		state.CurChallengeID = tracker.CurChallengeID.String()
		state.Timer = h.timerState(r.Context(), userID, tracker.CurChallengeID)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		log.Error().Err(err).Msg("failed to encode hunt state response")
	}
}

// timerState loads the timer snapshot for the current challenge. A missing
// timer is normal (never started); other errors are logged and omitted rather
// than failing the whole snapshot.
func (h *StateHandler) timerState(ctx context.Context, userID, challengeID uuid.UUID) *TimerStateInfo {
	t, err := h.timers.Timer(ctx, userID, challengeID)
	if err != nil {
		if !errors.Is(err, timer.ErrTimerNotFound) {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to get timer state")
		}
		return nil
	}

	remaining := int(time.Until(t.EndTime).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &TimerStateInfo{
		TimerID:          t.ID.String(),
		ChallengeID:      challengeID.String(),
		Status:           string(t.Status),
		EndTime:          t.EndTime,
		TimeRemainingSec: remaining,
		ExtensionsUsed:   t.ExtensionsUsed,
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/hunt/state", h.HandleGetHuntState)
}
