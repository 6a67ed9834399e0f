package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/errors"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	liveBuffer    = 16
	liveWriteWait = 10 * time.Second
)

// AlertActions lets live clients acknowledge or dismiss alerts
type AlertActions interface {
	Acknowledge(ctx context.Context, alertID string) error
	Dismiss(ctx context.Context, alertID string) error
}

// LiveEvent is pushed to every connected client when an alert fires
type LiveEvent struct {
	Type              string            `json:"type"`
	AlertID           string            `json:"alert_id"`
	SubjectID         string            `json:"subject_id"`
	Message           string            `json:"message"`
	Priority          alerting.Priority `json:"priority"`
	Reminder          bool              `json:"reminder"`
	RequiresDismissal bool              `json:"requires_dismissal"`
	Sent              time.Time         `json:"sent"`
}

// liveCommand is what a client may send back
type liveCommand struct {
	Action  string `json:"action"`
	AlertID string `json:"alert_id"`
}

type liveReply struct {
	Type    string `json:"type"`
	AlertID string `json:"alert_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type liveClient struct {
	send chan []byte
}

// LiveHub is a visual alert channel that broadcasts to WebSocket clients
type LiveHub struct {
	mu      sync.RWMutex
	clients map[*liveClient]struct{}
	actions AlertActions
	closed  bool
	logger  *zap.Logger
}

func NewLiveHub(actions AlertActions, logger *zap.Logger) *LiveHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHub{
		clients: make(map[*liveClient]struct{}),
		actions: actions,
		logger:  logger,
	}
}

// SetActions wires inbound ack/dismiss after the engine is built
func (h *LiveHub) SetActions(actions AlertActions) {
	h.mu.Lock()
	h.actions = actions
	h.mu.Unlock()
}

func (h *LiveHub) Name() string               { return "live" }
func (h *LiveHub) Kind() alerting.ChannelKind { return alerting.KindVisual }

// Available reports whether at least one client is connected
func (h *LiveHub) Available() bool {
	return h.Clients() > 0
}

// Clients returns the number of connected clients
func (h *LiveHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver queues the alert for every client. A client whose buffer is full
// misses the event rather than blocking the others.
func (h *LiveHub) Deliver(ctx context.Context, d alerting.Delivery) error {
	payload, err := json.Marshal(LiveEvent{
		Type:              "alert",
		AlertID:           d.AlertID,
		SubjectID:         d.SubjectID,
		Message:           d.Message,
		Priority:          d.Priority,
		Reminder:          d.Reminder,
		RequiresDismissal: d.Params.RequiresDismissal,
		Sent:              d.Sent,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return errors.ErrChannelUnavailable
	}

	queued := 0
	for c := range h.clients {
		select {
		case c.send <- payload:
			queued++
		default:
		}
	}
	if queued == 0 {
		return errors.New(errors.CodeNotificationFailed, "every live client is backlogged")
	}
	return nil
}

// Serve runs one WebSocket connection until the client leaves
func (h *LiveHub) Serve(conn *websocket.Conn) {
	client := &liveClient{send: make(chan []byte, liveBuffer)}
	if !h.register(client) {
		conn.Close()
		return
	}
	defer h.unregister(client)

	done := make(chan struct{})
	go h.readLoop(conn, client, done)

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				conn.Close()
				<-done
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("Live client write failed", zap.Error(err))
				conn.Close()
				<-done
				return
			}
		case <-done:
			return
		}
	}
}

func (h *LiveHub) readLoop(conn *websocket.Conn, client *liveClient, done chan struct{}) {
	defer close(done)

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var cmd liveCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			h.reply(client, liveReply{Type: "error", Error: "invalid message format"})
			continue
		}
		h.reply(client, h.apply(cmd))
	}
}

func (h *LiveHub) apply(cmd liveCommand) liveReply {
	h.mu.RLock()
	actions := h.actions
	h.mu.RUnlock()

	if actions == nil {
		return liveReply{Type: "error", AlertID: cmd.AlertID, Error: "actions unavailable"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch cmd.Action {
	case "ack":
		err = actions.Acknowledge(ctx, cmd.AlertID)
	case "dismiss":
		err = actions.Dismiss(ctx, cmd.AlertID)
	default:
		return liveReply{Type: "error", AlertID: cmd.AlertID, Error: "unknown action " + cmd.Action}
	}
	if err != nil {
		return liveReply{Type: "error", AlertID: cmd.AlertID, Error: err.Error()}
	}
	return liveReply{Type: cmd.Action, AlertID: cmd.AlertID}
}

func (h *LiveHub) reply(client *liveClient, r liveReply) {
	payload, _ := json.Marshal(r)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}

func (h *LiveHub) register(c *liveClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("Live client connected", zap.Int("clients", len(h.clients)))
	return true
}

func (h *LiveHub) unregister(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client
func (h *LiveHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
