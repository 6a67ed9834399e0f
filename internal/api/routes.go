package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.requestLogger())

	origins := "*"
	if len(s.config.AllowOrigins) > 0 {
		origins = strings.Join(s.config.AllowOrigins, ",")
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	s.app.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	api := s.app.Group("/api")

	subjects := api.Group("/subjects/:id")
	subjects.Post("/recurrences", s.handleScheduleRecurrence)
	subjects.Post("/confirm", s.handleConfirm)
	subjects.Post("/omit", s.handleOmit)
	subjects.Get("/pending", s.handlePending)

	api.Delete("/occurrences/:id", s.handleCancel)

	api.Get("/alerts", s.handleListAlerts)
	api.Post("/alerts/:id/ack", s.handleAcknowledge)
	api.Post("/alerts/:id/dismiss", s.handleDismiss)

	if s.hub != nil {
		s.app.Use("/ws", s.upgradeOnly())
		s.app.Get("/ws/alerts", websocket.New(s.hub.Serve))
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	s.logger.Sugar().Infof("HTTP API listening on %s", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	if s.hub != nil {
		s.hub.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
