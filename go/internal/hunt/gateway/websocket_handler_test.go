package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/auth"
	"github.com/mcdev12/questhunt/go/internal/hunt/events"
	"github.com/mcdev12/questhunt/go/internal/hunt/timer"
)

type timerCall struct {
	action      string
	userID      uuid.UUID
	challengeID uuid.UUID
}

type fakeTimerService struct {
	calls          []timerCall
	err            error
	completeResult *timer.CompleteResult
}

func (f *fakeTimerService) StartTimer(ctx context.Context, actor auth.Actor, userID, challengeID uuid.UUID) (*timer.StartResult, error) {
	f.calls = append(f.calls, timerCall{action: "start", userID: userID, challengeID: challengeID})
	if f.err != nil {
		return nil, f.err
	}
	return &timer.StartResult{}, nil
}

func (f *fakeTimerService) ExtendTimer(ctx context.Context, actor auth.Actor, userID, challengeID uuid.UUID) (*timer.ExtendResult, error) {
	f.calls = append(f.calls, timerCall{action: "extend", userID: userID, challengeID: challengeID})
	if f.err != nil {
		return nil, f.err
	}
	return &timer.ExtendResult{}, nil
}

func (f *fakeTimerService) CompleteTimer(ctx context.Context, actor auth.Actor, userID, challengeID uuid.UUID) (*timer.CompleteResult, error) {
	f.calls = append(f.calls, timerCall{action: "complete", userID: userID, challengeID: challengeID})
	if f.err != nil {
		return nil, f.err
	}
	if f.completeResult != nil {
		return f.completeResult, nil
	}
	return &timer.CompleteResult{ChallengeID: challengeID.String(), ChallengeCompleted: true}, nil
}

func testConnection() *Connection {
	return &Connection{
		ID:      uuid.New().String(),
		UserID:  uuid.New(),
		GroupID: uuid.New(),
		Send:    make(chan []byte, 8),
	}
}

func commandJSON(t *testing.T, action, challengeID string) []byte {
	t.Helper()
	raw, err := json.Marshal(ClientCommand{Action: action, ChallengeID: challengeID, RequestID: "req-1"})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return raw
}

func receiveEvent(t *testing.T, conn *Connection) *HuntEvent {
	t.Helper()
	select {
	case data := <-conn.Send:
		var ev HuntEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return &ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection event")
		return nil
	}
}

func TestCommandRouterDispatch(t *testing.T) {
	svc := &fakeTimerService{}
	router := NewCommandRouter(svc, time.Second)
	conn := testConnection()
	challengeID := uuid.New()

	for i, tc := range []struct {
		action string
		want   string
	}{
		{ActionStartChallengeTimer, "start"},
		{ActionExtendTimer, "extend"},
		{ActionCompleteTimer, "complete"},
	} {
		router.HandleCommand(context.Background(), conn, commandJSON(t, tc.action, challengeID.String()))
		if len(svc.calls) != i+1 {
			t.Fatalf("calls after %s = %d, want %d", tc.action, len(svc.calls), i+1)
		}
		call := svc.calls[i]
		if call.action != tc.want || call.userID != conn.UserID || call.challengeID != challengeID {
			t.Errorf("call = %+v, want %s for connection user", call, tc.want)
		}
	}

	select {
	case data := <-conn.Send:
		t.Errorf("unexpected event on success path: %s", data)
	default:
	}
}

func TestCommandRouterRejectsUnknownAction(t *testing.T) {
	router := NewCommandRouter(&fakeTimerService{}, time.Second)
	conn := testConnection()

	router.HandleCommand(context.Background(), conn, commandJSON(t, "teleport", uuid.New().String()))

	ev := receiveEvent(t, conn)
	if ev.Type != EventTypeCommandError {
		t.Fatalf("event type = %v, want CommandError", ev.Type)
	}
	var data CommandErrorData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal error data: %v", err)
	}
	if data.Message != "unknown action" || data.RequestID != "req-1" {
		t.Errorf("error data = %+v", data)
	}
}

func TestCommandRouterMapsEngineErrors(t *testing.T) {
	svc := &fakeTimerService{err: timer.ErrInsufficientPoints}
	router := NewCommandRouter(svc, time.Second)
	conn := testConnection()

	router.HandleCommand(context.Background(), conn, commandJSON(t, ActionExtendTimer, uuid.New().String()))

	ev := receiveEvent(t, conn)
	var data CommandErrorData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal error data: %v", err)
	}
	if data.Message != "not enough points to extend" {
		t.Errorf("message = %q, want insufficient points mapping", data.Message)
	}
	if data.Action != ActionExtendTimer {
		t.Errorf("action = %q, want %q", data.Action, ActionExtendTimer)
	}
}

func TestCompleteTimerNoopRepliesToCaller(t *testing.T) {
	challengeID := uuid.New()
	svc := &fakeTimerService{
		completeResult: &timer.CompleteResult{ChallengeID: challengeID.String(), ChallengeCompleted: false},
	}
	router := NewCommandRouter(svc, time.Second)
	conn := testConnection()

	router.HandleCommand(context.Background(), conn, commandJSON(t, ActionCompleteTimer, challengeID.String()))

	ev := receiveEvent(t, conn)
	if ev.Type != EventTypeTimerCompleted {
		t.Fatalf("event type = %v, want TimerCompleted", ev.Type)
	}
	var data events.TimerCompletedPayload
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal completion payload: %v", err)
	}
	if data.ChallengeCompleted {
		t.Error("challenge_completed = true, want false for a no-op completion")
	}
	if data.ChallengeID != challengeID.String() {
		t.Errorf("challenge id = %q, want %q", data.ChallengeID, challengeID)
	}
}

func TestCommandRouterRejectsBadChallengeID(t *testing.T) {
	svc := &fakeTimerService{}
	router := NewCommandRouter(svc, time.Second)
	conn := testConnection()

	router.HandleCommand(context.Background(), conn, commandJSON(t, ActionStartChallengeTimer, "not-a-uuid"))

	ev := receiveEvent(t, conn)
	var data CommandErrorData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal error data: %v", err)
	}
	if data.Message != "invalid challenge_id" {
		t.Errorf("message = %q, want invalid challenge_id", data.Message)
	}
	if len(svc.calls) != 0 {
		t.Errorf("service calls = %d, want 0", len(svc.calls))
	}
}
