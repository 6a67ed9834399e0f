package api

import (
	"strings"
	"time"

	"github.com/gmsas95/careminder/internal/alerting"
	"github.com/gmsas95/careminder/internal/errors"
	"github.com/gmsas95/careminder/internal/reminder"
	"github.com/gofiber/fiber/v2"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":    "healthy",
		"version":   Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": s.now().Unix(),
	}
	if s.hub != nil {
		resp["live_clients"] = s.hub.Clients()
	}
	return c.JSON(resp)
}

func (s *Server) handleScheduleRecurrence(c *fiber.Ctx) error {
	var spec reminder.RecurrenceSpec
	if err := c.BodyParser(&spec); err != nil {
		return errors.Validationf("invalid request body: %v", err)
	}

	kind, err := reminder.ParseKind(string(spec.Kind))
	if err != nil {
		return errors.Validationf("%v", err)
	}
	spec.Kind = kind
	if spec.Priority != "" {
		p, err := alerting.ParsePriority(string(spec.Priority))
		if err != nil {
			return errors.Validationf("%v", err)
		}
		spec.Priority = p
	}

	subjectID := c.Params("id")
	if err := s.engine.ScheduleRecurrence(c.UserContext(), subjectID, spec); err != nil {
		return err
	}

	pending, err := s.engine.PendingEvents(c.UserContext(), subjectID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(pendingResponse{SubjectID: subjectID, Events: pending})
}

func (s *Server) handleConfirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.Validationf("invalid request body: %v", err)
	}

	opts, err := matchOptions(req.OccurrenceID, req.Kind)
	if err != nil {
		return err
	}

	conf, err := s.engine.Confirm(c.UserContext(), c.Params("id"), s.actualAt(req.ActualAt), opts...)
	if err != nil {
		return err
	}
	return c.JSON(conf)
}

func (s *Server) handleOmit(c *fiber.Ctx) error {
	var req omitRequest
	if err := c.BodyParser(&req); err != nil {
		return errors.Validationf("invalid request body: %v", err)
	}

	opts, err := matchOptions(req.OccurrenceID, req.Kind)
	if err != nil {
		return err
	}

	if err := s.engine.Omit(c.UserContext(), c.Params("id"), req.Justification, s.actualAt(req.ActualAt), opts...); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePending(c *fiber.Ctx) error {
	subjectID := c.Params("id")
	events, err := s.engine.PendingEvents(c.UserContext(), subjectID)
	if err != nil {
		return err
	}
	if events == nil {
		events = []reminder.CareActionEvent{}
	}
	return c.JSON(pendingResponse{SubjectID: subjectID, Events: events})
}

func (s *Server) handleCancel(c *fiber.Ctx) error {
	if err := s.engine.Cancel(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListAlerts(c *fiber.Ctx) error {
	var floor *alerting.Priority
	if raw := c.Query("min_priority"); raw != "" {
		p, err := alerting.ParsePriority(raw)
		if err != nil {
			return errors.Validationf("%v", err)
		}
		floor = &p
	}

	alerts, err := s.engine.AlertsByPriority(c.UserContext(), floor)
	if err != nil {
		return err
	}
	if alerts == nil {
		alerts = []reminder.ScheduledAlert{}
	}
	return c.JSON(alertsResponse{Alerts: alerts, Count: len(alerts)})
}

func (s *Server) handleAcknowledge(c *fiber.Ctx) error {
	if err := s.engine.Acknowledge(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleDismiss(c *fiber.Ctx) error {
	if err := s.engine.Dismiss(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) actualAt(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return s.now()
	}
	return *t
}

func matchOptions(occurrenceID, kind string) ([]reminder.MatchOption, error) {
	var opts []reminder.MatchOption
	if id := strings.TrimSpace(occurrenceID); id != "" {
		opts = append(opts, reminder.ForOccurrence(id))
	}
	if strings.TrimSpace(kind) != "" {
		k, err := reminder.ParseKind(kind)
		if err != nil {
			return nil, errors.Validationf("%v", err)
		}
		opts = append(opts, reminder.ForKind(k))
	}
	return opts, nil
}
