package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"gtdbot/internal/domain"
	"gtdbot/internal/gateway"
)

// Skip labels for deliveries acknowledged without running the pipeline.
const (
	skipEvent       = "event"
	skipUnsupported = "unsupported"
	skipInvalid     = "invalid_payload"
)

type webhookResponse struct {
	Success bool   `json:"success"`
	Skipped string `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	UserID  string `json:"userId,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Intent  string `json:"intent,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleEvolution(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, webhookResponse{Error: "unreadable body"})
	}

	presented := c.Request().Header.Get("apikey")
	if presented == "" {
		presented = c.Request().Header.Get("X-Api-Key")
	}
	wh, decodeErr := gateway.DecodeEvolution(body)
	if presented == "" && wh != nil {
		presented = wh.APIKey
	}
	if !s.authorized(presented) {
		s.logger.Warn("webhook rejected: bad credential", "remote", c.RealIP())
		return c.JSON(http.StatusUnauthorized, webhookResponse{Error: "unauthorized"})
	}

	if decodeErr != nil {
		s.logger.Debug("webhook payload invalid", "error", decodeErr)
		return s.skip(c, skipInvalid)
	}
	if !wh.IsMessageEvent() {
		return s.skip(c, skipEvent)
	}
	ev, err := wh.InboundEvent()
	switch {
	case errors.Is(err, gateway.ErrUnsupportedMessage):
		return s.skip(c, skipUnsupported)
	case err != nil:
		s.logger.Debug("webhook message invalid", "error", err)
		return s.skip(c, skipInvalid)
	}
	return s.process(c, ev)
}

func (s *Server) handleTelegram(c echo.Context) error {
	got := c.Request().Header.Get(headerTelegramSecret)
	if !constantTimeEqual(got, s.telegramSecret) {
		s.logger.Warn("telegram webhook rejected: bad secret", "remote", c.RealIP())
		return c.JSON(http.StatusUnauthorized, webhookResponse{Error: "unauthorized"})
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(c.Request().Body).Decode(&update); err != nil {
		return s.skip(c, skipInvalid)
	}
	if update.CallbackQuery != nil && s.telegram != nil {
		s.telegram.AnswerCallback(update.CallbackQuery.ID)
	}

	ev, ok, err := gateway.ParseTelegram(update)
	switch {
	case errors.Is(err, gateway.ErrUnsupportedMessage):
		return s.skip(c, skipUnsupported)
	case err != nil:
		return s.skip(c, skipInvalid)
	case !ok:
		return s.skip(c, skipEvent)
	}
	return s.process(c, ev)
}

// process runs the pipeline detached from the request context so a relay
// that hangs up early does not abort a half-applied event.
func (s *Server) process(c echo.Context, ev domain.InboundEvent) error {
	s.observer.EventReceived(ev.Gateway, string(ev.Kind))

	out, err := s.pipeline.Handle(context.WithoutCancel(c.Request().Context()), ev)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, webhookResponse{Success: false})
	}

	resp := webhookResponse{
		Success: true,
		Reason:  out.Reason,
		UserID:  out.UserID,
		TaskID:  out.TaskID,
		Intent:  out.Intent,
	}
	if out.Skipped {
		resp.Skipped, resp.Reason = out.Reason, ""
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) skip(c echo.Context, label string) error {
	s.observer.EventSkipped(label)
	return c.JSON(http.StatusOK, webhookResponse{Success: true, Skipped: label})
}
