package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidTransition is returned when a transition would rewrite state that
// is already set to a different value, or re-enter a terminal sub-lifecycle.
// Re-applying a transition with an identical value is a no-op success so that
// redelivered provider events stay harmless.
var ErrInvalidTransition = errors.New("invalid payment transition")

// Payment is the aggregate root for a single money movement. It is mutated
// only through the pure With* transitions; persistence versioning lives in
// the store layer.
type Payment struct {
	PaymentID          PaymentID
	PayerFullName      string
	PayerEmail         string
	PayeeFullName      string
	PayeeEmail         string
	AmountMinor        int64
	SecurityQuestion   string
	SecurityAnswerHash string
	Inbound            InboundStatuses
	Payout             *PayoutData
	Refund             *RefundData
}

// InboundStatuses records the inbound (pay-in) leg. CreatedAt is always set;
// the rest arrive from provider webhooks. FailedAt is terminal for the leg.
type InboundStatuses struct {
	CreatedAt    time.Time
	AuthorizedAt *time.Time
	ExecutedAt   *time.Time
	SettledAt    *time.Time
	FailedAt     *time.Time
}

// LegKind discriminates the two shapes an outbound leg can take: registered
// locally ahead of the provider call, or created with a provider-assigned id.
type LegKind string

const (
	LegRegistering LegKind = "registering"
	LegCreated     LegKind = "created"
)

// PayoutData is a tagged variant. Kind LegRegistering carries only
// RegisteredAt; kind LegCreated carries the provider-assigned PayoutID and
// the created/executed/failed timestamps.
type PayoutData struct {
	Kind         LegKind
	RegisteredAt time.Time
	PayoutID     PayoutID
	CreatedAt    time.Time
	ExecutedAt   *time.Time
	FailedAt     *time.Time
}

// RefundData mirrors PayoutData for the refund leg.
type RefundData struct {
	Kind         LegKind
	RegisteredAt time.Time
	RefundID     RefundID
	CreatedAt    time.Time
	ExecutedAt   *time.Time
	FailedAt     *time.Time
}

// NewPayment builds a fresh aggregate for a registered deposit intent. The
// security answer is hashed immediately and never retained in clear text.
func NewPayment(id PaymentID, payerFullName, payerEmail, payeeFullName, payeeEmail string, amountMinor int64, question, answer string, now time.Time) (Payment, error) {
	if id.IsZero() {
		return Payment{}, fmt.Errorf("payment id must be set")
	}
	if amountMinor <= 0 {
		return Payment{}, fmt.Errorf("amount must be positive, got %d", amountMinor)
	}
	for name, v := range map[string]string{
		"payer full name":   payerFullName,
		"payer email":       payerEmail,
		"payee full name":   payeeFullName,
		"payee email":       payeeEmail,
		"security question": question,
		"security answer":   answer,
	} {
		if strings.TrimSpace(v) == "" {
			return Payment{}, fmt.Errorf("%s must be non-empty", name)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(answer), bcrypt.DefaultCost)
	if err != nil {
		return Payment{}, fmt.Errorf("hash security answer: %w", err)
	}
	return Payment{
		PaymentID:          id,
		PayerFullName:      payerFullName,
		PayerEmail:         payerEmail,
		PayeeFullName:      payeeFullName,
		PayeeEmail:         payeeEmail,
		AmountMinor:        amountMinor,
		SecurityQuestion:   question,
		SecurityAnswerHash: string(hash),
		Inbound:            InboundStatuses{CreatedAt: now.UTC()},
	}, nil
}

// VerifySecurityAnswer reports whether the supplied answer matches the
// stored hash.
func (p Payment) VerifySecurityAnswer(answer string) bool {
	return bcrypt.CompareHashAndPassword([]byte(p.SecurityAnswerHash), []byte(answer)) == nil
}

// State derives the externally reported lifecycle state. The most advanced
// leg of the money movement wins: refund data, then payout data, then the
// inbound statuses. The derivation is total; every aggregate maps to exactly
// one state.
func (p Payment) State() PaymentState {
	if p.Refund != nil {
		return p.Refund.state()
	}
	if p.Payout != nil {
		return p.Payout.state()
	}
	return p.Inbound.state()
}

func (s InboundStatuses) state() PaymentState {
	switch {
	case s.FailedAt != nil:
		return StateInboundFailed
	case s.SettledAt != nil:
		return StateInboundSettled
	case s.ExecutedAt != nil:
		return StateInboundExecuted
	case s.AuthorizedAt != nil:
		return StateInboundAuthorized
	default:
		return StateInboundCreated
	}
}

func (d PayoutData) state() PaymentState {
	if d.Kind == LegRegistering {
		return StatePayoutRegistering
	}
	switch {
	case d.FailedAt != nil:
		return StatePayoutFailed
	case d.ExecutedAt != nil:
		return StatePayoutExecuted
	default:
		return StatePayoutCreated
	}
}

func (d RefundData) state() PaymentState {
	if d.Kind == LegRegistering {
		return StateRefundRegistering
	}
	switch {
	case d.FailedAt != nil:
		return StateRefundFailed
	case d.ExecutedAt != nil:
		return StateRefundExecuted
	default:
		return StateRefundCreated
	}
}

//
// Inbound transitions
//

func (p Payment) WithInboundAuthorized(at time.Time) (Payment, error) {
	return p.withInboundTimestamp("authorized", at, func(s *InboundStatuses) **time.Time { return &s.AuthorizedAt })
}

func (p Payment) WithInboundExecuted(at time.Time) (Payment, error) {
	return p.withInboundTimestamp("executed", at, func(s *InboundStatuses) **time.Time { return &s.ExecutedAt })
}

func (p Payment) WithInboundSettled(at time.Time) (Payment, error) {
	return p.withInboundTimestamp("settled", at, func(s *InboundStatuses) **time.Time { return &s.SettledAt })
}

func (p Payment) WithInboundFailed(at time.Time) (Payment, error) {
	next := p.clone()
	if err := setOnce(&next.Inbound.FailedAt, at); err != nil {
		return Payment{}, fmt.Errorf("inbound failed: %w", err)
	}
	return next, nil
}

func (p Payment) withInboundTimestamp(name string, at time.Time, field func(*InboundStatuses) **time.Time) (Payment, error) {
	next := p.clone()
	dst := field(&next.Inbound)
	if *dst != nil && (*dst).Equal(at) {
		return next, nil
	}
	if p.Inbound.FailedAt != nil {
		return Payment{}, fmt.Errorf("inbound %s after terminal failure: %w", name, ErrInvalidTransition)
	}
	if err := setOnce(dst, at); err != nil {
		return Payment{}, fmt.Errorf("inbound %s: %w", name, err)
	}
	return next, nil
}

//
// Payout transitions
//

// WithPayoutRegistering marks the local intent to pay out, ahead of the
// provider call. A refund leg excludes a payout leg and vice versa.
func (p Payment) WithPayoutRegistering(at time.Time) (Payment, error) {
	if p.Refund != nil {
		return Payment{}, fmt.Errorf("payout on refunded payment: %w", ErrInvalidTransition)
	}
	if p.Payout != nil {
		if p.Payout.Kind == LegRegistering && p.Payout.RegisteredAt.Equal(at.UTC()) {
			return p.clone(), nil
		}
		return Payment{}, fmt.Errorf("payout already started: %w", ErrInvalidTransition)
	}
	next := p.clone()
	next.Payout = &PayoutData{Kind: LegRegistering, RegisteredAt: at.UTC()}
	return next, nil
}

// WithPayoutCreated promotes a registered payout to created, recording the
// provider-assigned id. The payout must have been registered first.
func (p Payment) WithPayoutCreated(id PayoutID, at time.Time) (Payment, error) {
	if id.IsZero() {
		return Payment{}, fmt.Errorf("payout id must be set")
	}
	if p.Payout == nil {
		return Payment{}, fmt.Errorf("payout created without registration: %w", ErrInvalidTransition)
	}
	if p.Payout.Kind == LegCreated {
		if p.Payout.PayoutID == id {
			return p.clone(), nil
		}
		return Payment{}, fmt.Errorf("payout already created as %s: %w", p.Payout.PayoutID, ErrInvalidTransition)
	}
	next := p.clone()
	next.Payout = &PayoutData{Kind: LegCreated, RegisteredAt: p.Payout.RegisteredAt, PayoutID: id, CreatedAt: at.UTC()}
	return next, nil
}

func (p Payment) WithPayoutExecuted(at time.Time) (Payment, error) {
	return p.withPayoutTimestamp("executed", at, false)
}

func (p Payment) WithPayoutFailed(at time.Time) (Payment, error) {
	return p.withPayoutTimestamp("failed", at, true)
}

func (p Payment) withPayoutTimestamp(name string, at time.Time, terminal bool) (Payment, error) {
	if p.Payout == nil || p.Payout.Kind != LegCreated {
		return Payment{}, fmt.Errorf("payout %s before creation: %w", name, ErrInvalidTransition)
	}
	next := p.clone()
	dst := &next.Payout.ExecutedAt
	if terminal {
		dst = &next.Payout.FailedAt
	}
	if *dst != nil && (*dst).Equal(at.UTC()) {
		return next, nil
	}
	if !terminal && p.Payout.FailedAt != nil {
		return Payment{}, fmt.Errorf("payout %s after terminal failure: %w", name, ErrInvalidTransition)
	}
	if err := setOnce(dst, at); err != nil {
		return Payment{}, fmt.Errorf("payout %s: %w", name, err)
	}
	return next, nil
}

//
// Refund transitions
//

func (p Payment) WithRefundRegistering(at time.Time) (Payment, error) {
	if p.Payout != nil {
		return Payment{}, fmt.Errorf("refund on paid-out payment: %w", ErrInvalidTransition)
	}
	if p.Refund != nil {
		if p.Refund.Kind == LegRegistering && p.Refund.RegisteredAt.Equal(at.UTC()) {
			return p.clone(), nil
		}
		return Payment{}, fmt.Errorf("refund already started: %w", ErrInvalidTransition)
	}
	next := p.clone()
	next.Refund = &RefundData{Kind: LegRegistering, RegisteredAt: at.UTC()}
	return next, nil
}

func (p Payment) WithRefundCreated(id RefundID, at time.Time) (Payment, error) {
	if id.IsZero() {
		return Payment{}, fmt.Errorf("refund id must be set")
	}
	if p.Refund == nil {
		return Payment{}, fmt.Errorf("refund created without registration: %w", ErrInvalidTransition)
	}
	if p.Refund.Kind == LegCreated {
		if p.Refund.RefundID == id {
			return p.clone(), nil
		}
		return Payment{}, fmt.Errorf("refund already created as %s: %w", p.Refund.RefundID, ErrInvalidTransition)
	}
	next := p.clone()
	next.Refund = &RefundData{Kind: LegCreated, RegisteredAt: p.Refund.RegisteredAt, RefundID: id, CreatedAt: at.UTC()}
	return next, nil
}

func (p Payment) WithRefundExecuted(at time.Time) (Payment, error) {
	return p.withRefundTimestamp("executed", at, false)
}

func (p Payment) WithRefundFailed(at time.Time) (Payment, error) {
	return p.withRefundTimestamp("failed", at, true)
}

func (p Payment) withRefundTimestamp(name string, at time.Time, terminal bool) (Payment, error) {
	if p.Refund == nil || p.Refund.Kind != LegCreated {
		return Payment{}, fmt.Errorf("refund %s before creation: %w", name, ErrInvalidTransition)
	}
	next := p.clone()
	dst := &next.Refund.ExecutedAt
	if terminal {
		dst = &next.Refund.FailedAt
	}
	if *dst != nil && (*dst).Equal(at.UTC()) {
		return next, nil
	}
	if !terminal && p.Refund.FailedAt != nil {
		return Payment{}, fmt.Errorf("refund %s after terminal failure: %w", name, ErrInvalidTransition)
	}
	if err := setOnce(dst, at); err != nil {
		return Payment{}, fmt.Errorf("refund %s: %w", name, err)
	}
	return next, nil
}

// clone returns a deep copy so transitions never alias the receiver.
func (p Payment) clone() Payment {
	next := p
	next.Inbound.AuthorizedAt = cloneTime(p.Inbound.AuthorizedAt)
	next.Inbound.ExecutedAt = cloneTime(p.Inbound.ExecutedAt)
	next.Inbound.SettledAt = cloneTime(p.Inbound.SettledAt)
	next.Inbound.FailedAt = cloneTime(p.Inbound.FailedAt)
	if p.Payout != nil {
		cp := *p.Payout
		cp.ExecutedAt = cloneTime(p.Payout.ExecutedAt)
		cp.FailedAt = cloneTime(p.Payout.FailedAt)
		next.Payout = &cp
	}
	if p.Refund != nil {
		cp := *p.Refund
		cp.ExecutedAt = cloneTime(p.Refund.ExecutedAt)
		cp.FailedAt = cloneTime(p.Refund.FailedAt)
		next.Refund = &cp
	}
	return next
}

func setOnce(dst **time.Time, at time.Time) error {
	at = at.UTC()
	if *dst != nil {
		if (*dst).Equal(at) {
			return nil
		}
		return fmt.Errorf("timestamp already set to %s: %w", (*dst).Format(time.RFC3339Nano), ErrInvalidTransition)
	}
	*dst = &at
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
