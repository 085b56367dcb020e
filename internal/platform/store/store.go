// Package store provides keyed aggregate storage with optimistic concurrency
// control. All coordination between concurrent writers happens through the
// conditional-write contract; there are no cross-process locks.
package store

import (
	"context"
	"errors"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

var (
	// ErrNotFound means no row exists for the key.
	ErrNotFound = errors.New("store: not found")

	// ErrConcurrentUpdate means the stored version did not match the
	// expected predecessor. The row is untouched; callers re-get,
	// recompute and retry.
	ErrConcurrentUpdate = errors.New("store: concurrent update")

	// ErrDuplicateEmail means a user insert collided on the email unique
	// constraint.
	ErrDuplicateEmail = errors.New("store: duplicate email")
)

// VersionedPayment pairs an aggregate with the version that produced it.
type VersionedPayment struct {
	Payment domain.Payment
	Version int64
}

// VersionedUser pairs a user aggregate with its version.
type VersionedUser struct {
	User    domain.User
	Version int64
}

// PaymentStore is the versioned record store for payments.
//
// UpsertPayment inserts at expectedNextVersion 0 (failing with
// ErrConcurrentUpdate if a row exists) or updates when the stored version is
// exactly expectedNextVersion-1. The payout/refund correlation indexes are
// maintained by the same write and are read-only projections, never the
// source of truth.
type PaymentStore interface {
	GetPayment(ctx context.Context, id domain.PaymentID) (domain.Payment, int64, error)
	GetPaymentByPayoutID(ctx context.Context, id domain.PayoutID) (domain.Payment, int64, error)
	GetPaymentByRefundID(ctx context.Context, id domain.RefundID) (domain.Payment, int64, error)
	ListPayments(ctx context.Context, limit, offset int) ([]VersionedPayment, error)
	UpsertPayment(ctx context.Context, p domain.Payment, expectedNextVersion int64) error
}

// UserStore is the versioned record store for users.
type UserStore interface {
	GetUser(ctx context.Context, id domain.UserID) (domain.User, int64, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, int64, error)
	ListUsers(ctx context.Context, limit, offset int) ([]VersionedUser, error)
	UpsertUser(ctx context.Context, u domain.User, expectedNextVersion int64) error
}

// Clamp keeps list paging within sane bounds.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
