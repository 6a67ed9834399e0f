// Package api exposes the reminder engine over HTTP and a live WebSocket feed
package api

import (
	"context"
	"time"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/config"
	"github.com/gmsas95/careminder/internal/metrics"
	"github.com/gmsas95/careminder/internal/reminder"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// Engine is the reminder surface the handlers drive
type Engine interface {
	ScheduleRecurrence(ctx context.Context, subjectID string, spec reminder.RecurrenceSpec) error
	Confirm(ctx context.Context, subjectID string, actualAt time.Time, opts ...reminder.MatchOption) (*reminder.Confirmation, error)
	Omit(ctx context.Context, subjectID, justification string, actualAt time.Time, opts ...reminder.MatchOption) error
	Cancel(ctx context.Context, occurrenceID string) error
	AlertsByPriority(ctx context.Context, minPriority *alerting.Priority) ([]reminder.ScheduledAlert, error)
	PendingEvents(ctx context.Context, subjectID string) ([]reminder.CareActionEvent, error)
	Acknowledge(ctx context.Context, alertID string) error
	Dismiss(ctx context.Context, alertID string) error
}

type Server struct {
	app     *fiber.App
	config  config.ServerConfig
	engine  Engine
	hub     *LiveHub
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
	started time.Time
}

// New builds the server and its routes. hub and m may be nil, which drops
// the live feed and the metrics endpoint.
func New(cfg config.ServerConfig, engine Engine, hub *LiveHub, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	readTimeout := time.Duration(cfg.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := time.Duration(cfg.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           120 * time.Second,
		ErrorHandler:          errorHandler(logger),
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		engine:  engine,
		hub:     hub,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		started: time.Now(),
	}

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test in tests
func (s *Server) App() *fiber.App {
	return s.app
}

type confirmRequest struct {
	ActualAt     *time.Time `json:"actual_at"`
	OccurrenceID string     `json:"occurrence_id"`
	Kind         string     `json:"kind"`
}

type omitRequest struct {
	Justification string     `json:"justification"`
	ActualAt      *time.Time `json:"actual_at"`
	OccurrenceID  string     `json:"occurrence_id"`
	Kind          string     `json:"kind"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type alertsResponse struct {
	Alerts []reminder.ScheduledAlert `json:"alerts"`
	Count  int                       `json:"count"`
}

type pendingResponse struct {
	SubjectID string                     `json:"subject_id"`
	Events    []reminder.CareActionEvent `json:"events"`
}
