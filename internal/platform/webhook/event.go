package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

// Event is the closed set of provider notification kinds. Anything outside
// the set decodes to Unhandled so new provider event kinds fail loudly until
// they are added here.
type Event interface {
	Kind() string
}

type PaymentAuthorized struct {
	PaymentID    domain.PaymentID
	AuthorizedAt time.Time
}

type PaymentExecuted struct {
	PaymentID  domain.PaymentID
	ExecutedAt time.Time
}

type PaymentSettled struct {
	PaymentID domain.PaymentID
	SettledAt time.Time
}

type PaymentFailed struct {
	PaymentID     domain.PaymentID
	FailedAt      time.Time
	FailedStage   string
	FailureReason string
}

type PayoutExecuted struct {
	PayoutID   domain.PayoutID
	ExecutedAt time.Time
}

type PayoutFailed struct {
	PayoutID      domain.PayoutID
	FailedAt      time.Time
	FailureReason string
}

type RefundExecuted struct {
	RefundID   domain.RefundID
	ExecutedAt time.Time
}

type RefundFailed struct {
	RefundID      domain.RefundID
	FailedAt      time.Time
	FailureReason string
}

// ExternalPaymentReceived reports provider-initiated inbound money with no
// local aggregate. Recognized but not processed.
type ExternalPaymentReceived struct {
	TransactionID string
	AmountInMinor int64
	Currency      string
	SettledAt     time.Time
}

// Unhandled carries the kind discriminant of an event this build does not
// know.
type Unhandled struct {
	TypeName string
}

func (PaymentAuthorized) Kind() string       { return "payment_authorized" }
func (PaymentExecuted) Kind() string         { return "payment_executed" }
func (PaymentSettled) Kind() string          { return "payment_settled" }
func (PaymentFailed) Kind() string           { return "payment_failed" }
func (PayoutExecuted) Kind() string          { return "payout_executed" }
func (PayoutFailed) Kind() string            { return "payout_failed" }
func (RefundExecuted) Kind() string          { return "refund_executed" }
func (RefundFailed) Kind() string            { return "refund_failed" }
func (ExternalPaymentReceived) Kind() string { return "external_payment_received" }
func (e Unhandled) Kind() string             { return e.TypeName }

type eventEnvelope struct {
	Type          string `json:"type"`
	EventID       string `json:"event_id"`
	PaymentID     string `json:"payment_id"`
	PayoutID      string `json:"payout_id"`
	RefundID      string `json:"refund_id"`
	TransactionID string `json:"transaction_id"`
	AuthorizedAt  string `json:"authorized_at"`
	ExecutedAt    string `json:"executed_at"`
	SettledAt     string `json:"settled_at"`
	FailedAt      string `json:"failed_at"`
	FailedStage   string `json:"failed_stage"`
	FailureReason string `json:"failure_reason"`
	AmountInMinor int64  `json:"amount_in_minor"`
	Currency      string `json:"currency"`
}

// DecodeEvent turns a verified body into an Event. Errors mean the payload
// is malformed; an unknown type is not an error, it is Unhandled.
func DecodeEvent(body []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode event: missing type")
	}

	switch env.Type {
	case "payment_authorized":
		paymentID, at, err := paymentIDAndTime(env.PaymentID, env.AuthorizedAt, "authorized_at")
		if err != nil {
			return nil, err
		}
		return PaymentAuthorized{PaymentID: paymentID, AuthorizedAt: at}, nil
	case "payment_executed":
		paymentID, at, err := paymentIDAndTime(env.PaymentID, env.ExecutedAt, "executed_at")
		if err != nil {
			return nil, err
		}
		return PaymentExecuted{PaymentID: paymentID, ExecutedAt: at}, nil
	case "payment_settled":
		paymentID, at, err := paymentIDAndTime(env.PaymentID, env.SettledAt, "settled_at")
		if err != nil {
			return nil, err
		}
		return PaymentSettled{PaymentID: paymentID, SettledAt: at}, nil
	case "payment_failed":
		paymentID, at, err := paymentIDAndTime(env.PaymentID, env.FailedAt, "failed_at")
		if err != nil {
			return nil, err
		}
		return PaymentFailed{PaymentID: paymentID, FailedAt: at, FailedStage: env.FailedStage, FailureReason: env.FailureReason}, nil
	case "payout_executed":
		payoutID, err := domain.ParsePayoutID(env.PayoutID)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		at, err := parseEventTime(env.ExecutedAt, "executed_at")
		if err != nil {
			return nil, err
		}
		return PayoutExecuted{PayoutID: payoutID, ExecutedAt: at}, nil
	case "payout_failed":
		payoutID, err := domain.ParsePayoutID(env.PayoutID)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		at, err := parseEventTime(env.FailedAt, "failed_at")
		if err != nil {
			return nil, err
		}
		return PayoutFailed{PayoutID: payoutID, FailedAt: at, FailureReason: env.FailureReason}, nil
	case "refund_executed":
		refundID, err := domain.ParseRefundID(env.RefundID)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		at, err := parseEventTime(env.ExecutedAt, "executed_at")
		if err != nil {
			return nil, err
		}
		return RefundExecuted{RefundID: refundID, ExecutedAt: at}, nil
	case "refund_failed":
		refundID, err := domain.ParseRefundID(env.RefundID)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		at, err := parseEventTime(env.FailedAt, "failed_at")
		if err != nil {
			return nil, err
		}
		return RefundFailed{RefundID: refundID, FailedAt: at, FailureReason: env.FailureReason}, nil
	case "external_payment_received":
		at, err := parseEventTime(env.SettledAt, "settled_at")
		if err != nil {
			return nil, err
		}
		return ExternalPaymentReceived{
			TransactionID: env.TransactionID,
			AmountInMinor: env.AmountInMinor,
			Currency:      env.Currency,
			SettledAt:     at,
		}, nil
	default:
		return Unhandled{TypeName: env.Type}, nil
	}
}

func paymentIDAndTime(rawID, rawTime, field string) (domain.PaymentID, time.Time, error) {
	paymentID, err := domain.ParsePaymentID(rawID)
	if err != nil {
		return domain.PaymentID{}, time.Time{}, fmt.Errorf("decode event: %w", err)
	}
	at, err := parseEventTime(rawTime, field)
	if err != nil {
		return domain.PaymentID{}, time.Time{}, err
	}
	return paymentID, at, nil
}

func parseEventTime(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("decode event: missing %s", field)
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode event: parse %s: %w", field, err)
	}
	return at.UTC(), nil
}
