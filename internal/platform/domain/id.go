package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Identifier types wrap a random 128-bit value. They parse and format as
// canonical hyphenated text and are immutable once created.

type PaymentID uuid.UUID

type PayoutID uuid.UUID

type RefundID uuid.UUID

type UserID uuid.UUID

func NewPaymentID() PaymentID { return PaymentID(uuid.New()) }

func NewPayoutID() PayoutID { return PayoutID(uuid.New()) }

func NewRefundID() RefundID { return RefundID(uuid.New()) }

func NewUserID() UserID { return UserID(uuid.New()) }

func ParsePaymentID(s string) (PaymentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PaymentID{}, fmt.Errorf("parse payment id: %w", err)
	}
	return PaymentID(u), nil
}

func ParsePayoutID(s string) (PayoutID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PayoutID{}, fmt.Errorf("parse payout id: %w", err)
	}
	return PayoutID(u), nil
}

func ParseRefundID(s string) (RefundID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RefundID{}, fmt.Errorf("parse refund id: %w", err)
	}
	return RefundID(u), nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("parse user id: %w", err)
	}
	return UserID(u), nil
}

func (id PaymentID) String() string { return uuid.UUID(id).String() }

func (id PayoutID) String() string { return uuid.UUID(id).String() }

func (id RefundID) String() string { return uuid.UUID(id).String() }

func (id UserID) String() string { return uuid.UUID(id).String() }

func (id PaymentID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id PayoutID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id RefundID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id PaymentID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *PaymentID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id PayoutID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *PayoutID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id RefundID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *RefundID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id UserID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
