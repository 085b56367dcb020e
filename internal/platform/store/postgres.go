package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

// PostgresStore implements PaymentStore and UserStore on top of database/sql
// with the pgx stdlib driver. Optimistic concurrency is enforced in SQL: an
// update only lands when the stored data_version is the expected predecessor,
// and the affected-row count decides the outcome.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema is applied by EnsureSchema. The correlation indexes are projections:
// they are written in the same transaction as the owning payment row and are
// never consulted as the source of truth.
const Schema = `
CREATE TABLE IF NOT EXISTS payments (
    payment_id   UUID PRIMARY KEY,
    data_version BIGINT NOT NULL,
    payment_data JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payout_index (
    payout_id  UUID PRIMARY KEY,
    payment_id UUID NOT NULL REFERENCES payments (payment_id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS refund_index (
    refund_id  UUID PRIMARY KEY,
    payment_id UUID NOT NULL REFERENCES payments (payment_id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
    user_id      UUID PRIMARY KEY,
    email        TEXT NOT NULL UNIQUE,
    data_version BIGINT NOT NULL,
    user_data    JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertPayment(ctx context.Context, p domain.Payment, expectedNextVersion int64) error {
	if expectedNextVersion < 0 {
		return fmt.Errorf("expected next version must be >= 0, got %d", expectedNextVersion)
	}
	payload, err := encodePayment(p)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var res sql.Result
	if expectedNextVersion == 0 {
		const insert = `
INSERT INTO payments (payment_id, data_version, payment_data, created_at, updated_at)
VALUES ($1, 0, $2::jsonb, NOW(), NOW())
ON CONFLICT (payment_id) DO NOTHING
`
		res, err = tx.ExecContext(ctx, insert, uuid.UUID(p.PaymentID), string(payload))
	} else {
		const update = `
UPDATE payments
SET data_version = $2,
    payment_data = $3::jsonb,
    updated_at = NOW()
WHERE payment_id = $1
  AND data_version = $2 - 1
`
		res, err = tx.ExecContext(ctx, update, uuid.UUID(p.PaymentID), expectedNextVersion, string(payload))
	}
	if err != nil {
		return fmt.Errorf("upsert payment %s: %w", p.PaymentID, err)
	}
	if err := versionTriage(res); err != nil {
		return err
	}

	if p.Payout != nil && p.Payout.Kind == domain.LegCreated {
		const idx = `
INSERT INTO payout_index (payout_id, payment_id)
VALUES ($1, $2)
ON CONFLICT (payout_id) DO NOTHING
`
		if _, err := tx.ExecContext(ctx, idx, uuid.UUID(p.Payout.PayoutID), uuid.UUID(p.PaymentID)); err != nil {
			return fmt.Errorf("index payout %s: %w", p.Payout.PayoutID, err)
		}
	}
	if p.Refund != nil && p.Refund.Kind == domain.LegCreated {
		const idx = `
INSERT INTO refund_index (refund_id, payment_id)
VALUES ($1, $2)
ON CONFLICT (refund_id) DO NOTHING
`
		if _, err := tx.ExecContext(ctx, idx, uuid.UUID(p.Refund.RefundID), uuid.UUID(p.PaymentID)); err != nil {
			return fmt.Errorf("index refund %s: %w", p.Refund.RefundID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, id domain.PaymentID) (domain.Payment, int64, error) {
	const q = `
SELECT payment_id, data_version, payment_data
FROM payments
WHERE payment_id = $1
`
	return s.scanPayment(s.db.QueryRowContext(ctx, q, uuid.UUID(id)))
}

func (s *PostgresStore) GetPaymentByPayoutID(ctx context.Context, id domain.PayoutID) (domain.Payment, int64, error) {
	const q = `
SELECT p.payment_id, p.data_version, p.payment_data
FROM payout_index idx
JOIN payments p ON p.payment_id = idx.payment_id
WHERE idx.payout_id = $1
`
	return s.scanPayment(s.db.QueryRowContext(ctx, q, uuid.UUID(id)))
}

func (s *PostgresStore) GetPaymentByRefundID(ctx context.Context, id domain.RefundID) (domain.Payment, int64, error) {
	const q = `
SELECT p.payment_id, p.data_version, p.payment_data
FROM refund_index idx
JOIN payments p ON p.payment_id = idx.payment_id
WHERE idx.refund_id = $1
`
	return s.scanPayment(s.db.QueryRowContext(ctx, q, uuid.UUID(id)))
}

func (s *PostgresStore) ListPayments(ctx context.Context, limit, offset int) ([]VersionedPayment, error) {
	limit, offset = clampPage(limit, offset)
	const q = `
SELECT payment_id, data_version, payment_data
FROM payments
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	out := make([]VersionedPayment, 0)
	for rows.Next() {
		var id uuid.UUID
		var version int64
		var raw []byte
		if err := rows.Scan(&id, &version, &raw); err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payment, err := decodePayment(domain.PaymentID(id), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, VersionedPayment{Payment: payment, Version: version})
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanPayment(row *sql.Row) (domain.Payment, int64, error) {
	var id uuid.UUID
	var version int64
	var raw []byte
	err := row.Scan(&id, &version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, 0, ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, 0, fmt.Errorf("get payment: %w", err)
	}
	payment, err := decodePayment(domain.PaymentID(id), raw)
	if err != nil {
		return domain.Payment{}, 0, err
	}
	return payment, version, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u domain.User, expectedNextVersion int64) error {
	if expectedNextVersion < 0 {
		return fmt.Errorf("expected next version must be >= 0, got %d", expectedNextVersion)
	}
	payload, err := encodeUser(u)
	if err != nil {
		return err
	}

	var res sql.Result
	if expectedNextVersion == 0 {
		const insert = `
INSERT INTO users (user_id, email, data_version, user_data, created_at, updated_at)
VALUES ($1, $2, 0, $3::jsonb, NOW(), NOW())
ON CONFLICT (user_id) DO NOTHING
`
		res, err = s.db.ExecContext(ctx, insert, uuid.UUID(u.UserID), u.Email, string(payload))
	} else {
		const update = `
UPDATE users
SET data_version = $2,
    user_data = $3::jsonb,
    updated_at = NOW()
WHERE user_id = $1
  AND data_version = $2 - 1
`
		res, err = s.db.ExecContext(ctx, update, uuid.UUID(u.UserID), expectedNextVersion, string(payload))
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "email") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("upsert user %s: %w", u.UserID, err)
	}
	return versionTriage(res)
}

func (s *PostgresStore) GetUser(ctx context.Context, id domain.UserID) (domain.User, int64, error) {
	const q = `
SELECT user_id, email, data_version, user_data
FROM users
WHERE user_id = $1
`
	return s.scanUser(s.db.QueryRowContext(ctx, q, uuid.UUID(id)))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (domain.User, int64, error) {
	const q = `
SELECT user_id, email, data_version, user_data
FROM users
WHERE email = $1
`
	return s.scanUser(s.db.QueryRowContext(ctx, q, strings.ToLower(strings.TrimSpace(email))))
}

func (s *PostgresStore) ListUsers(ctx context.Context, limit, offset int) ([]VersionedUser, error) {
	limit, offset = clampPage(limit, offset)
	const q = `
SELECT user_id, email, data_version, user_data
FROM users
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]VersionedUser, 0)
	for rows.Next() {
		var id uuid.UUID
		var email string
		var version int64
		var raw []byte
		if err := rows.Scan(&id, &email, &version, &raw); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		user, err := decodeUser(domain.UserID(id), email, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, VersionedUser{User: user, Version: version})
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanUser(row *sql.Row) (domain.User, int64, error) {
	var id uuid.UUID
	var email string
	var version int64
	var raw []byte
	err := row.Scan(&id, &email, &version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, 0, ErrNotFound
	}
	if err != nil {
		return domain.User{}, 0, fmt.Errorf("get user: %w", err)
	}
	user, err := decodeUser(domain.UserID(id), email, raw)
	if err != nil {
		return domain.User{}, 0, err
	}
	return user, version, nil
}

// versionTriage maps the affected-row count onto the concurrency contract.
// Zero rows is the expected contention case. More than one row can only
// happen if key uniqueness is broken, which is corruption, not contention.
func versionTriage(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	switch affected {
	case 0:
		return ErrConcurrentUpdate
	case 1:
		return nil
	default:
		return fmt.Errorf("versioned write affected %d rows, storage corrupt", affected)
	}
}
