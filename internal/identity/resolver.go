// Package identity maps gateway sender addresses to users, enforces
// subscription entitlement and runs the link-code protocol that binds an
// address to an account.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gtdbot/internal/domain"
)

var entitledStatuses = map[string]bool{
	"active": true,
	"trial":  true,
	"test":   true,
}

// Entitled reports whether the account's subscription allows bot usage.
func Entitled(a domain.Account) bool {
	return entitledStatuses[strings.ToLower(a.SubscriptionStatus)] || strings.EqualFold(a.Role, "test")
}

type ResolverConfig struct {
	Accounts domain.AccountStore
	Logger   *slog.Logger
}

// Resolver is evaluated per message with no caching: a cancelled
// subscription takes effect on the next message.
type Resolver struct {
	accounts domain.AccountStore
	logger   *slog.Logger
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{accounts: cfg.Accounts, logger: cfg.Logger}
}

// Resolve returns the user bound to sender or one of ErrNotRegistered,
// ErrNotEntitled, ErrNotLinked.
func (r *Resolver) Resolve(ctx context.Context, sender string) (string, error) {
	normalized := NormalizeAddress(sender)
	if normalized == "" {
		return "", domain.ErrNotRegistered
	}

	link, err := r.accounts.FindActiveLink(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("resolve: find link: %w", err)
	}
	if link != nil {
		acct, err := r.accounts.GetAccount(ctx, link.UserID)
		if err != nil {
			return "", fmt.Errorf("resolve: get account: %w", err)
		}
		if acct == nil {
			r.logger.Warn("active link points at a missing account", "user_id", link.UserID)
			return "", domain.ErrNotRegistered
		}
		if !Entitled(*acct) {
			return "", domain.ErrNotEntitled
		}
		return link.UserID, nil
	}

	acct, err := r.accounts.FindAccountByPhone(ctx, stripSuffix(sender), normalized)
	if err != nil {
		return "", fmt.Errorf("resolve: find account: %w", err)
	}
	if acct == nil {
		return "", domain.ErrNotRegistered
	}
	if !Entitled(*acct) {
		return "", domain.ErrNotEntitled
	}
	return "", domain.ErrNotLinked
}
