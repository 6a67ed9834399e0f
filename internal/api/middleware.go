package api

import (
	stderrors "errors"
	"time"

	"github.com/gmsas95/careminder/internal/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}
		s.logger.Debug("HTTP request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Any("request_id", c.Locals("requestid")),
		)
		return err
	}
}

func (s *Server) upgradeOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// statusFor maps domain error codes to HTTP statuses
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case stderrors.As(err, &fe):
		return fe.Code
	case stderrors.Is(err, errors.ErrValidation):
		return fiber.StatusBadRequest
	case stderrors.Is(err, errors.ErrAdherenceWindow):
		return fiber.StatusConflict
	case stderrors.Is(err, errors.ErrJustificationRequired):
		return fiber.StatusUnprocessableEntity
	case stderrors.Is(err, errors.ErrNotFound):
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := statusFor(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("path", c.Path()),
				zap.String("code", errors.GetCode(err)),
				zap.Error(err),
			)
		}

		resp := errorResponse{Error: err.Error()}
		var fe *fiber.Error
		if stderrors.As(err, &fe) {
			resp.Error = fe.Message
		}
		if errors.IsAppError(err) {
			resp.Code = errors.GetCode(err)
		}
		return c.Status(status).JSON(resp)
	}
}
