package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

// The persisted payload is schema-versioned independently of the row: a
// discriminant field selects the decoding shape so rows written by older
// builds remain readable after the in-memory shape evolves. New shapes get a
// new schema value and a new decode branch; existing branches never change.

const (
	schemaPaymentV1 = "payment/v1"
	schemaUserV1    = "user/v1"
)

type schemaEnvelope struct {
	Schema string `json:"schema"`
}

type paymentPayloadV1 struct {
	Schema             string         `json:"schema"`
	PayerFullName      string         `json:"payer_full_name"`
	PayerEmail         string         `json:"payer_email"`
	PayeeFullName      string         `json:"payee_full_name"`
	PayeeEmail         string         `json:"payee_email"`
	AmountMinor        int64          `json:"amount_minor"`
	SecurityQuestion   string         `json:"security_question"`
	SecurityAnswerHash string         `json:"security_answer_hash"`
	Inbound            inboundV1      `json:"inbound_statuses"`
	Payout             *outboundLegV1 `json:"payout_data,omitempty"`
	Refund             *outboundLegV1 `json:"refund_data,omitempty"`
}

type inboundV1 struct {
	CreatedAt    time.Time  `json:"created_at"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

type outboundLegV1 struct {
	Kind         string     `json:"kind"`
	RegisteredAt time.Time  `json:"registered_at"`
	ID           string     `json:"id,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

type userPayloadV1 struct {
	Schema       string     `json:"schema"`
	Kind         string     `json:"kind"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Code         string     `json:"code,omitempty"`
	CodeIssuedAt *time.Time `json:"code_issued_at,omitempty"`
}

func encodePayment(p domain.Payment) ([]byte, error) {
	payload := paymentPayloadV1{
		Schema:             schemaPaymentV1,
		PayerFullName:      p.PayerFullName,
		PayerEmail:         p.PayerEmail,
		PayeeFullName:      p.PayeeFullName,
		PayeeEmail:         p.PayeeEmail,
		AmountMinor:        p.AmountMinor,
		SecurityQuestion:   p.SecurityQuestion,
		SecurityAnswerHash: p.SecurityAnswerHash,
		Inbound: inboundV1{
			CreatedAt:    p.Inbound.CreatedAt,
			AuthorizedAt: p.Inbound.AuthorizedAt,
			ExecutedAt:   p.Inbound.ExecutedAt,
			SettledAt:    p.Inbound.SettledAt,
			FailedAt:     p.Inbound.FailedAt,
		},
	}
	if p.Payout != nil {
		id := ""
		if !p.Payout.PayoutID.IsZero() {
			id = p.Payout.PayoutID.String()
		}
		payload.Payout = encodeLeg(string(p.Payout.Kind), p.Payout.RegisteredAt, id, p.Payout.CreatedAt, p.Payout.ExecutedAt, p.Payout.FailedAt)
	}
	if p.Refund != nil {
		id := ""
		if !p.Refund.RefundID.IsZero() {
			id = p.Refund.RefundID.String()
		}
		payload.Refund = encodeLeg(string(p.Refund.Kind), p.Refund.RegisteredAt, id, p.Refund.CreatedAt, p.Refund.ExecutedAt, p.Refund.FailedAt)
	}
	return json.Marshal(payload)
}

func encodeLeg(kind string, registeredAt time.Time, id string, createdAt time.Time, executedAt, failedAt *time.Time) *outboundLegV1 {
	leg := &outboundLegV1{
		Kind:         kind,
		RegisteredAt: registeredAt,
		ID:           id,
		ExecutedAt:   executedAt,
		FailedAt:     failedAt,
	}
	if !createdAt.IsZero() {
		at := createdAt
		leg.CreatedAt = &at
	}
	return leg
}

func decodePayment(id domain.PaymentID, raw []byte) (domain.Payment, error) {
	var env schemaEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Payment{}, fmt.Errorf("decode payment envelope: %w", err)
	}
	switch env.Schema {
	case schemaPaymentV1:
		return decodePaymentV1(id, raw)
	default:
		return domain.Payment{}, fmt.Errorf("unknown payment payload schema %q", env.Schema)
	}
}

func decodePaymentV1(id domain.PaymentID, raw []byte) (domain.Payment, error) {
	var payload paymentPayloadV1
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Payment{}, fmt.Errorf("decode payment payload: %w", err)
	}
	p := domain.Payment{
		PaymentID:          id,
		PayerFullName:      payload.PayerFullName,
		PayerEmail:         payload.PayerEmail,
		PayeeFullName:      payload.PayeeFullName,
		PayeeEmail:         payload.PayeeEmail,
		AmountMinor:        payload.AmountMinor,
		SecurityQuestion:   payload.SecurityQuestion,
		SecurityAnswerHash: payload.SecurityAnswerHash,
		Inbound: domain.InboundStatuses{
			CreatedAt:    payload.Inbound.CreatedAt,
			AuthorizedAt: payload.Inbound.AuthorizedAt,
			ExecutedAt:   payload.Inbound.ExecutedAt,
			SettledAt:    payload.Inbound.SettledAt,
			FailedAt:     payload.Inbound.FailedAt,
		},
	}
	if payload.Payout != nil {
		leg := payload.Payout
		data := domain.PayoutData{
			Kind:         domain.LegKind(leg.Kind),
			RegisteredAt: leg.RegisteredAt,
			ExecutedAt:   leg.ExecutedAt,
			FailedAt:     leg.FailedAt,
		}
		if leg.ID != "" {
			payoutID, err := domain.ParsePayoutID(leg.ID)
			if err != nil {
				return domain.Payment{}, fmt.Errorf("decode payout id: %w", err)
			}
			data.PayoutID = payoutID
		}
		if leg.CreatedAt != nil {
			data.CreatedAt = *leg.CreatedAt
		}
		p.Payout = &data
	}
	if payload.Refund != nil {
		leg := payload.Refund
		data := domain.RefundData{
			Kind:         domain.LegKind(leg.Kind),
			RegisteredAt: leg.RegisteredAt,
			ExecutedAt:   leg.ExecutedAt,
			FailedAt:     leg.FailedAt,
		}
		if leg.ID != "" {
			refundID, err := domain.ParseRefundID(leg.ID)
			if err != nil {
				return domain.Payment{}, fmt.Errorf("decode refund id: %w", err)
			}
			data.RefundID = refundID
		}
		if leg.CreatedAt != nil {
			data.CreatedAt = *leg.CreatedAt
		}
		p.Refund = &data
	}
	return p, nil
}

func encodeUser(u domain.User) ([]byte, error) {
	payload := userPayloadV1{
		Schema:    schemaUserV1,
		Kind:      string(u.Data.Kind),
		FirstName: u.Data.FirstName,
		LastName:  u.Data.LastName,
	}
	if u.Data.Kind == domain.UserRegistering {
		payload.Code = u.Data.Code
		issued := u.Data.CodeIssuedAt
		payload.CodeIssuedAt = &issued
	}
	return json.Marshal(payload)
}

func decodeUser(id domain.UserID, email string, raw []byte) (domain.User, error) {
	var env schemaEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.User{}, fmt.Errorf("decode user envelope: %w", err)
	}
	if env.Schema != schemaUserV1 {
		return domain.User{}, fmt.Errorf("unknown user payload schema %q", env.Schema)
	}
	var payload userPayloadV1
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.User{}, fmt.Errorf("decode user payload: %w", err)
	}
	u := domain.User{
		UserID: id,
		Email:  email,
		Data: domain.UserData{
			Kind:      domain.UserKind(payload.Kind),
			FirstName: payload.FirstName,
			LastName:  payload.LastName,
			Code:      payload.Code,
		},
	}
	if payload.CodeIssuedAt != nil {
		u.Data.CodeIssuedAt = *payload.CodeIssuedAt
	}
	return u, nil
}
