package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"gtdbot/internal/domain"
)

const (
	DefaultCodeTTL = 15 * time.Minute
	codeLength     = 6
	codeAttempts   = 5
)

type LinkerConfig struct {
	Accounts domain.AccountStore
	TTL      time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// Linker issues and redeems link codes.
type Linker struct {
	accounts domain.AccountStore
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewLinker(cfg LinkerConfig) *Linker {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCodeTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Linker{
		accounts: cfg.Accounts,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
}

// CreateCode creates an inactive link for (userID, address) carrying a fresh
// 6-digit code. A previous pending code for the same pair is replaced.
func (l *Linker) CreateCode(ctx context.Context, userID, address string) (*domain.AccountLink, error) {
	normalized := NormalizeAddress(address)
	if normalized == "" {
		return nil, fmt.Errorf("link: address %q has no digits", address)
	}
	acct, err := l.accounts.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("link: get account: %w", err)
	}
	if acct == nil {
		return nil, domain.ErrNotRegistered
	}

	code, err := l.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	now := l.now()
	expiry := now.Add(l.ttl)
	link := domain.AccountLink{
		ID:                uuid.NewString(),
		UserID:            userID,
		NormalizedAddress: normalized,
		LinkCode:          code,
		LinkCodeExpiry:    &expiry,
		CreatedAt:         now,
	}
	if err := l.accounts.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("link: create: %w", err)
	}

	l.logger.Info("link code issued",
		"user_id", userID,
		"address", MaskAddress(normalized),
		"expires", expiry.Format(time.RFC3339),
	)
	return &link, nil
}

// uniqueCode avoids handing out a code that is already pending for someone
// else, since redemption looks codes up globally.
func (l *Linker) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := generateSecureCode(codeLength)
		if err != nil {
			return "", err
		}
		existing, err := l.accounts.FindPendingLinkByCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("link: check code: %w", err)
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", errors.New("link: could not allocate a free code")
}

// Activate redeems code for sender. Every rejection (unknown code, expired,
// wrong address, already redeemed) wraps ErrInvalidLinkCode and leaves the
// link untouched.
func (l *Linker) Activate(ctx context.Context, sender, code string) (*domain.AccountLink, error) {
	code = strings.TrimSpace(code)
	if !IsLinkCode(code) {
		return nil, domain.ErrInvalidLinkCode
	}

	link, err := l.accounts.FindPendingLinkByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("link: find code: %w", err)
	}
	if link == nil {
		return nil, fmt.Errorf("unknown code: %w", domain.ErrInvalidLinkCode)
	}

	now := l.now()
	if link.LinkCodeExpiry == nil || !now.Before(*link.LinkCodeExpiry) {
		return nil, fmt.Errorf("code expired: %w", domain.ErrInvalidLinkCode)
	}
	if link.NormalizedAddress != NormalizeAddress(sender) {
		l.logger.Warn("link code redeemed from another address",
			"user_id", link.UserID,
			"sender", MaskAddress(sender),
		)
		return nil, fmt.Errorf("address mismatch: %w", domain.ErrInvalidLinkCode)
	}

	ok, err := l.accounts.ActivateLink(ctx, link.ID, now)
	if err != nil {
		return nil, fmt.Errorf("link: activate: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("code already used: %w", domain.ErrInvalidLinkCode)
	}

	if n, err := l.accounts.DeactivateOtherLinks(ctx, link.UserID, link.ID); err != nil {
		l.logger.Warn("could not deactivate previous links", "user_id", link.UserID, "error", err)
	} else if n > 0 {
		l.logger.Info("previous links deactivated", "user_id", link.UserID, "count", n)
	}

	link.IsActive = true
	link.LinkCode = ""
	link.LinkCodeExpiry = nil
	link.ActivatedAt = &now

	l.logger.Info("address linked", "user_id", link.UserID, "address", MaskAddress(sender))
	return link, nil
}

// Unlink deactivates the user's links for address and returns how many
// changed.
func (l *Linker) Unlink(ctx context.Context, userID, address string) (int, error) {
	n, err := l.accounts.DeactivateLinks(ctx, userID, NormalizeAddress(address))
	if err != nil {
		return 0, fmt.Errorf("unlink: %w", err)
	}
	return n, nil
}

func (l *Linker) List(ctx context.Context, userID string) ([]domain.AccountLink, error) {
	return l.accounts.ListLinks(ctx, userID)
}

// generateSecureCode returns a random numeric string using crypto/rand.
func generateSecureCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("link: generate code: %w", err)
		}
		code[i] = byte('0') + byte(n.Int64())
	}
	return string(code), nil
}
