package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/config"
	"github.com/gmsas95/careminder/internal/errors"
	"github.com/gmsas95/careminder/internal/metrics"
	"github.com/gmsas95/careminder/internal/reminder"
	"github.com/gmsas95/careminder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestServer(t *testing.T) (*Server, *reminder.Engine) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo, err := reminder.NewStoreRepository(store.NewWithDB(db, nil))
	require.NoError(t, err)

	hub := NewLiveHub(nil, zap.NewNop())
	emitter := alerting.NewEmitter(zap.NewNop(), nil, hub)
	engine := reminder.NewEngine(repo, emitter, reminder.Options{Logger: zap.NewNop()})
	hub.SetActions(engine)
	t.Cleanup(engine.Shutdown)

	return New(config.ServerConfig{}, engine, hub, metrics.New(), zap.NewNop()), engine
}

func do(t *testing.T, s *Server, method, path string, body any) (int, []byte) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decodeError(t *testing.T, body []byte) errorResponse {
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func schedule(t *testing.T, s *Server, subject string, spec map[string]any) pendingResponse {
	status, body := do(t, s, http.MethodPost, "/api/subjects/"+subject+"/recurrences", spec)
	require.Equal(t, http.StatusCreated, status, string(body))

	var resp pendingResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s, _ := setupTestServer(t)

	status, body := do(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"healthy"`)
	assert.Contains(t, string(body), `"live_clients":0`)
}

func TestScheduleRecurrence(t *testing.T) {
	s, _ := setupTestServer(t)

	resp := schedule(t, s, "room-12", map[string]any{"kind": "bathroom", "interval_hours": 2})
	assert.Equal(t, "room-12", resp.SubjectID)
	assert.Len(t, resp.Events, 12)

	status, body := do(t, s, http.MethodGet, "/api/subjects/room-12/pending", nil)
	require.Equal(t, http.StatusOK, status)
	var pending pendingResponse
	require.NoError(t, json.Unmarshal(body, &pending))
	assert.Len(t, pending.Events, 12)
}

func TestScheduleRecurrenceValidation(t *testing.T) {
	s, _ := setupTestServer(t)

	cases := []map[string]any{
		{"kind": "bathroom", "interval_hours": 1.5},
		{"kind": "hydration", "target_count": 9},
		{"kind": "sleep"},
		{"kind": "medication", "times": []string{"08:00"}, "priority": "urgent"},
	}
	for _, spec := range cases {
		status, body := do(t, s, http.MethodPost, "/api/subjects/room-12/recurrences", spec)
		assert.Equal(t, http.StatusBadRequest, status, "%v", spec)
		assert.Equal(t, errors.CodeValidation, decodeError(t, body).Code)
	}

	status, body := do(t, s, http.MethodGet, "/api/subjects/room-12/pending", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"events":[]`)
}

func TestConfirmAndOmit(t *testing.T) {
	s, _ := setupTestServer(t)

	resp := schedule(t, s, "room-12", map[string]any{"kind": "medication", "times": []string{"08:00", "20:00"}})
	require.Len(t, resp.Events, 2)
	first, second := resp.Events[0], resp.Events[1]

	status, body := do(t, s, http.MethodPost, "/api/subjects/room-12/confirm", map[string]any{
		"actual_at":     first.ScheduledAt.Add(2 * time.Hour),
		"occurrence_id": first.OccurrenceID,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, errors.CodeAdherenceWindow, decodeError(t, body).Code)

	status, body = do(t, s, http.MethodPost, "/api/subjects/room-12/confirm", map[string]any{
		"actual_at":     first.ScheduledAt.Add(90 * time.Minute),
		"occurrence_id": first.OccurrenceID,
	})
	require.Equal(t, http.StatusOK, status, string(body))
	var conf reminder.Confirmation
	require.NoError(t, json.Unmarshal(body, &conf))
	assert.True(t, conf.WithinWindow)
	assert.Equal(t, first.OccurrenceID, conf.OccurrenceID)

	status, _ = do(t, s, http.MethodPost, "/api/subjects/room-12/confirm", map[string]any{
		"occurrence_id": first.OccurrenceID,
	})
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, s, http.MethodPost, "/api/subjects/room-12/omit", map[string]any{"justification": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, errors.CodeJustification, decodeError(t, body).Code)

	status, _ = do(t, s, http.MethodPost, "/api/subjects/room-12/omit", map[string]any{
		"justification": "patient asleep",
		"actual_at":     second.ScheduledAt,
		"kind":          "medication",
	})
	assert.Equal(t, http.StatusNoContent, status)

	status, body = do(t, s, http.MethodGet, "/api/subjects/room-12/pending", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"events":[]`)

	status, _ = do(t, s, http.MethodPost, "/api/subjects/room-12/confirm", map[string]any{"kind": "nap"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCancelOccurrence(t *testing.T) {
	s, _ := setupTestServer(t)

	resp := schedule(t, s, "room-12", map[string]any{"kind": "medication", "times": []string{"08:00"}})
	id := resp.Events[0].OccurrenceID

	status, _ := do(t, s, http.MethodDelete, "/api/occurrences/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body := do(t, s, http.MethodDelete, "/api/occurrences/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errors.CodeNotFound, decodeError(t, body).Code)
}

func TestListAlerts(t *testing.T) {
	s, _ := setupTestServer(t)

	schedule(t, s, "room-12", map[string]any{"kind": "hydration", "target_count": 6})
	schedule(t, s, "room-14", map[string]any{"kind": "medication", "times": []string{"09:00"}, "priority": "critical"})

	status, body := do(t, s, http.MethodGet, "/api/alerts", nil)
	require.Equal(t, http.StatusOK, status)
	var all alertsResponse
	require.NoError(t, json.Unmarshal(body, &all))
	require.Equal(t, 7, all.Count)
	assert.Equal(t, alerting.PriorityCritical, all.Alerts[0].Priority)

	status, body = do(t, s, http.MethodGet, "/api/alerts?min_priority=high", nil)
	require.Equal(t, http.StatusOK, status)
	var high alertsResponse
	require.NoError(t, json.Unmarshal(body, &high))
	assert.Equal(t, 1, high.Count)

	status, _ = do(t, s, http.MethodGet, "/api/alerts?min_priority=urgent", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAcknowledgeAndDismiss(t *testing.T) {
	s, _ := setupTestServer(t)

	resp := schedule(t, s, "room-12", map[string]any{"kind": "medication", "times": []string{"08:00"}})
	id := resp.Events[0].OccurrenceID

	status, _ := do(t, s, http.MethodPost, "/api/alerts/"+id+"/ack", nil)
	assert.Equal(t, http.StatusBadRequest, status, "alert not sent yet")

	status, _ = do(t, s, http.MethodPost, "/api/alerts/missing/dismiss", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := setupTestServer(t)
	schedule(t, s, "room-12", map[string]any{"kind": "postural_change"})

	status, _ := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestLiveFeedRequiresUpgrade(t *testing.T) {
	s, _ := setupTestServer(t)

	status, _ := do(t, s, http.MethodGet, "/ws/alerts", nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)
}

type fakeActions struct {
	acked, dismissed []string
}

func (f *fakeActions) Acknowledge(ctx context.Context, id string) error {
	if id == "missing" {
		return errors.NotFoundf("alert %s not found", id)
	}
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeActions) Dismiss(ctx context.Context, id string) error {
	f.dismissed = append(f.dismissed, id)
	return nil
}

func TestLiveHubDeliver(t *testing.T) {
	hub := NewLiveHub(nil, zap.NewNop())
	d := alerting.Delivery{
		AlertID:   "a1",
		SubjectID: "room-12",
		Message:   "Metformin 500mg",
		Priority:  alerting.PriorityCritical,
		Params:    alerting.Policy(alerting.PriorityCritical),
		Sent:      time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}

	assert.False(t, hub.Available())
	assert.ErrorIs(t, hub.Deliver(context.Background(), d), errors.ErrChannelUnavailable)

	client := &liveClient{send: make(chan []byte, 1)}
	require.True(t, hub.register(client))
	assert.True(t, hub.Available())
	assert.Equal(t, alerting.KindVisual, hub.Kind())

	require.NoError(t, hub.Deliver(context.Background(), d))
	var ev LiveEvent
	require.NoError(t, json.Unmarshal(<-client.send, &ev))
	assert.Equal(t, "alert", ev.Type)
	assert.Equal(t, "a1", ev.AlertID)
	assert.True(t, ev.RequiresDismissal)
	assert.True(t, ev.Sent.Equal(d.Sent))

	require.NoError(t, hub.Deliver(context.Background(), d))
	err := hub.Deliver(context.Background(), d)
	assert.ErrorIs(t, err, errors.ErrNotificationFailed, "backlogged client")

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	assert.False(t, hub.register(&liveClient{send: make(chan []byte, 1)}))
}

func TestLiveHubCommands(t *testing.T) {
	actions := &fakeActions{}
	hub := NewLiveHub(nil, zap.NewNop())

	assert.Equal(t, "error", hub.apply(liveCommand{Action: "ack", AlertID: "a1"}).Type)

	hub.SetActions(actions)
	assert.Equal(t, liveReply{Type: "ack", AlertID: "a1"}, hub.apply(liveCommand{Action: "ack", AlertID: "a1"}))
	assert.Equal(t, liveReply{Type: "dismiss", AlertID: "a2"}, hub.apply(liveCommand{Action: "dismiss", AlertID: "a2"}))

	r := hub.apply(liveCommand{Action: "ack", AlertID: "missing"})
	assert.Equal(t, "error", r.Type)
	assert.Contains(t, r.Error, "not found")

	assert.Equal(t, "error", hub.apply(liveCommand{Action: "snooze", AlertID: "a1"}).Type)
	assert.Equal(t, []string{"a1"}, actions.acked)
	assert.Equal(t, []string{"a2"}, actions.dismissed)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, 400, statusFor(errors.Validationf("bad")))
	assert.Equal(t, 409, statusFor(errors.Adherencef("late")))
	assert.Equal(t, 422, statusFor(errors.New(errors.CodeJustification, "why")))
	assert.Equal(t, 404, statusFor(errors.NotFoundf("gone")))
	assert.Equal(t, 500, statusFor(errors.NotificationFailed("boom", assert.AnError)))
	assert.Equal(t, 500, statusFor(assert.AnError))
}
