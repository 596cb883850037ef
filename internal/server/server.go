// Package server exposes the webhook HTTP contract: gateway deliveries in,
// liveness and metrics out.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"gtdbot/internal/domain"
	"gtdbot/internal/pipeline"
)

const (
	bodyLimit       = "1M"
	shutdownTimeout = 10 * time.Second

	headerTelegramSecret = "X-Telegram-Bot-Api-Secret-Token"
)

// EventHandler runs one parsed event to completion.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) (pipeline.Outcome, error)
}

// Observer counts webhook traffic. metrics.Collector implements it.
type Observer interface {
	EventReceived(gateway, kind string)
	EventSkipped(reason string)
}

// CallbackAnswerer acknowledges Telegram inline-button taps.
type CallbackAnswerer interface {
	AnswerCallback(callbackID string)
}

type Config struct {
	Host        string
	Port        int
	WebhookPath string
	APIKey      string

	TelegramPath   string // empty disables the Telegram route
	TelegramSecret string
	Telegram       CallbackAnswerer

	MetricsPath    string
	MetricsHandler http.Handler // nil disables /metrics

	Pipeline EventHandler
	Observer Observer
	Logger   *slog.Logger
}

type Server struct {
	echo           *echo.Echo
	addr           string
	apiKey         string
	telegramSecret string
	telegram       CallbackAnswerer
	pipeline       EventHandler
	observer       Observer
	logger         *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	s := &Server{
		addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		apiKey:         cfg.APIKey,
		telegramSecret: cfg.TelegramSecret,
		telegram:       cfg.Telegram,
		pipeline:       cfg.Pipeline,
		observer:       cfg.Observer,
		logger:         cfg.Logger,
	}
	if s.apiKey == "" {
		s.logger.Error("server.apiKey is empty: every webhook call will be rejected")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			s.logger.Log(c.Request().Context(), level, "http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.Round(time.Millisecond),
				"error", v.Error,
			)
			return nil
		},
	}))

	e.GET("/ping", s.handleLiveness)
	e.GET(cfg.WebhookPath, s.handleLiveness)
	e.POST(cfg.WebhookPath, s.handleEvolution)
	if cfg.TelegramPath != "" {
		e.POST(cfg.TelegramPath, s.handleTelegram)
	}
	if cfg.MetricsHandler != nil {
		e.GET(cfg.MetricsPath, echo.WrapHandler(cfg.MetricsHandler))
	}

	s.echo = e
	return s
}

// ServeHTTP lets tests drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("webhook server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// authorized compares the presented credential in constant time.
func (s *Server) authorized(presented string) bool {
	return constantTimeEqual(presented, s.apiKey)
}

// constantTimeEqual never matches an empty expected value, so an unset
// secret rejects every call.
func constantTimeEqual(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

type nopObserver struct{}

func (nopObserver) EventReceived(string, string) {}
func (nopObserver) EventSkipped(string)          {}
