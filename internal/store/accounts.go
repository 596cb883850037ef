package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gtdbot/internal/domain"
)

// UpsertAccount mirrors a registered account from the web application.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, a domain.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, name, phone, phone_normalized, subscription_status, role)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			phone_normalized = excluded.phone_normalized,
			subscription_status = excluded.subscription_status,
			role = excluded.role`,
		a.UserID, a.Name, a.Phone, digitsOnly(a.Phone), a.SubscriptionStatus, a.Role,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT user_id, name, phone, subscription_status, role FROM accounts WHERE user_id = ?`, userID))
}

func (s *SQLiteStore) FindAccountByPhone(ctx context.Context, raw, normalized string) (*domain.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT user_id, name, phone, subscription_status, role FROM accounts
		 WHERE phone = ? OR (phone_normalized != '' AND phone_normalized = ?)
		 LIMIT 1`, raw, normalized))
}

func (s *SQLiteStore) scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.UserID, &a.Name, &a.Phone, &a.SubscriptionStatus, &a.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const linkColumns = `id, user_id, normalized_address, link_code, link_code_expiry, is_active, created_at, activated_at`

// CreateLink stores a new pending link, replacing any earlier pending link for
// the same (user, address) pair.
func (s *SQLiteStore) CreateLink(ctx context.Context, link domain.AccountLink) error {
	if link.ID == "" {
		link.ID = newID()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM account_links WHERE user_id = ? AND normalized_address = ? AND is_active = 0`,
		link.UserID, link.NormalizedAddress,
	); err != nil {
		return fmt.Errorf("create link: clear pending: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO account_links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.UserID, link.NormalizedAddress, nullString(link.LinkCode),
		nullMillis(link.LinkCodeExpiry), boolInt(link.IsActive), toMillis(link.CreatedAt),
		nullMillis(link.ActivatedAt),
	); err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) FindActiveLink(ctx context.Context, normalizedAddress string) (*domain.AccountLink, error) {
	return scanLink(s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM account_links
		 WHERE normalized_address = ? AND is_active = 1
		 ORDER BY activated_at DESC LIMIT 1`, normalizedAddress))
}

func (s *SQLiteStore) FindPendingLinkByCode(ctx context.Context, code string) (*domain.AccountLink, error) {
	return scanLink(s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM account_links
		 WHERE link_code = ? AND is_active = 0
		 ORDER BY created_at DESC LIMIT 1`, code))
}

// ActivateLink activates a pending link. The is_active guard makes a code
// single-use: a replay after activation updates nothing.
// ActivateLink flips a pending link to active. An older active link for the
// same (user, address) pair is retired in the same transaction so the
// one-active-per-pair index holds.
func (s *SQLiteStore) ActivateLink(ctx context.Context, linkID string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("activate link: %w", err)
	}
	defer tx.Rollback()

	var userID, address string
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, normalized_address FROM account_links WHERE id = ? AND is_active = 0`, linkID,
	).Scan(&userID, &address)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("activate link: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE account_links SET is_active = 0
		 WHERE user_id = ? AND normalized_address = ? AND is_active = 1`,
		userID, address,
	); err != nil {
		return false, fmt.Errorf("activate link: retire previous: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE account_links
		 SET is_active = 1, link_code = NULL, link_code_expiry = NULL, activated_at = ?
		 WHERE id = ? AND is_active = 0`,
		toMillis(at), linkID,
	)
	if err != nil {
		return false, fmt.Errorf("activate link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) DeactivateLinks(ctx context.Context, userID, normalizedAddress string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE account_links SET is_active = 0
		 WHERE user_id = ? AND normalized_address = ? AND is_active = 1`,
		userID, normalizedAddress,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate links: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DeactivateOtherLinks(ctx context.Context, userID, keepLinkID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE account_links SET is_active = 0
		 WHERE user_id = ? AND id != ? AND is_active = 1`,
		userID, keepLinkID,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate other links: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) ListLinks(ctx context.Context, userID string) ([]domain.AccountLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM account_links WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []domain.AccountLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

// DeleteExpiredPendingLinks removes inactive links whose code has expired.
func (s *SQLiteStore) DeleteExpiredPendingLinks(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM account_links
		 WHERE is_active = 0 AND link_code_expiry IS NOT NULL AND link_code_expiry < ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired links: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*domain.AccountLink, error) {
	var l domain.AccountLink
	var code sql.NullString
	var expiry, activated sql.NullInt64
	var active int
	var created int64
	err := row.Scan(&l.ID, &l.UserID, &l.NormalizedAddress, &code, &expiry, &active, &created, &activated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	l.LinkCode = code.String
	l.LinkCodeExpiry = timePtr(expiry)
	l.IsActive = active == 1
	l.CreatedAt = fromMillis(created)
	l.ActivatedAt = timePtr(activated)
	return &l, nil
}
