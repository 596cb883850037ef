// Package gateway talks to messaging relays: it parses their webhook
// payloads into domain.InboundEvent, sends replies back and exposes the
// media retrieval strategies each relay supports.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"gtdbot/internal/domain"
	"gtdbot/internal/identity"
	"gtdbot/internal/media"
)

// ErrUnsupportedMessage is returned for message events the pipeline does not
// handle (groups, broadcasts, stickers, images). They are acknowledged.
var ErrUnsupportedMessage = errors.New("gateway: unsupported message type")

// Client is one outbound messaging relay.
type Client interface {
	Name() string
	SendText(ctx context.Context, address, text string) error
	SendMenu(ctx context.Context, address string, menu domain.Menu) error
	MediaStrategies(ref domain.MediaRef) []media.RetrievalStrategy
}

// DeliveryObserver is told about every failed send.
type DeliveryObserver interface {
	DeliveryFailed(gateway, kind string)
}

type ComposerConfig struct {
	Client   Client
	Observer DeliveryObserver
	Logger   *slog.Logger
}

// Composer makes delivery best-effort: failures are logged and counted,
// never returned.
type Composer struct {
	client   Client
	observer DeliveryObserver
	logger   *slog.Logger
}

func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Composer{client: cfg.Client, observer: cfg.Observer, logger: cfg.Logger}
}

func (c *Composer) Client() Client { return c.client }

// Send delivers text and reports whether it went through.
func (c *Composer) Send(ctx context.Context, address, text string) bool {
	if text == "" {
		return true
	}
	if err := c.client.SendText(ctx, address, text); err != nil {
		c.failed("text", &domain.DeliveryError{Address: identity.MaskAddress(address), Err: err})
		return false
	}
	return true
}

// SendInteractive tries the rich menu first and falls back to fallback text
// (or the menu's plain rendering) when the gateway rejects it.
func (c *Composer) SendInteractive(ctx context.Context, address string, menu domain.Menu, fallback string) bool {
	err := c.client.SendMenu(ctx, address, menu)
	if err == nil {
		return true
	}
	c.failed("menu", &domain.DeliveryError{Address: identity.MaskAddress(address), Err: err})

	if fallback == "" {
		fallback = menu.PlainText()
	}
	return c.Send(ctx, address, fallback)
}

func (c *Composer) failed(kind string, err error) {
	c.logger.Warn("reply delivery failed",
		"gateway", c.client.Name(),
		"kind", kind,
		"error", err,
	)
	if c.observer != nil {
		c.observer.DeliveryFailed(c.client.Name(), kind)
	}
}
