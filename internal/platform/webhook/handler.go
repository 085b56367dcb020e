package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
	"github.com/fenlandpay/paygate-go/internal/platform/store"
)

// Contention on a single payment between webhook deliveries and orchestration
// is expected; the get-apply-upsert cycle simply runs again.
const maxApplyAttempts = 5

const maxBodyBytes = 256 << 10

// Handler is the webhook HTTP boundary: verify authenticity, decode into the
// closed event set, and apply the matching pure transition through the
// versioned store. Redelivery is harmless because identical transitions are
// no-ops.
type Handler struct {
	Verifier *Verifier
	Payments store.PaymentStore

	// Observe, when set, records (event kind, result) for metrics.
	Observe func(kind, result string)
	// Logf defaults to log.Printf.
	Logf func(format string, args ...any)
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /tl_webhook", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.finish(w, "unreadable", "invalid", http.StatusBadRequest)
		return
	}

	if err := h.Verifier.Verify(r, body); err != nil {
		h.logf("webhook rejected: %v", err)
		h.finish(w, "unverified", "unauthorized", http.StatusUnauthorized)
		return
	}

	event, err := DecodeEvent(body)
	if err != nil {
		h.logf("webhook malformed: %v", err)
		h.finish(w, "malformed", "invalid", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case ExternalPaymentReceived:
		// authentic inbound money this system did not initiate; acknowledged
		// so the provider stops redelivering, but deliberately not applied
		h.logf("webhook ignored: external payment received transaction_id=%s amount_minor=%d currency=%s", e.TransactionID, e.AmountInMinor, e.Currency)
		h.finish(w, e.Kind(), "ignored", http.StatusOK)
		return
	case Unhandled:
		h.logf("webhook unhandled event type %q", e.TypeName)
		h.finish(w, "unhandled", "not_implemented", http.StatusNotImplemented)
		return
	}

	status := h.apply(r.Context(), event)
	result := "applied"
	switch status {
	case http.StatusBadRequest:
		result = "invalid"
	case http.StatusInternalServerError:
		result = "error"
	}
	h.finish(w, event.Kind(), result, status)
}

// apply runs the get-apply-upsert cycle with bounded retry on version
// conflicts. NotFound is a client error: state is never fabricated for an
// unknown aggregate.
func (h *Handler) apply(ctx context.Context, event Event) int {
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		payment, version, err := h.fetch(ctx, event)
		if errors.Is(err, store.ErrNotFound) {
			h.logf("webhook %s: no such aggregate", event.Kind())
			return http.StatusBadRequest
		}
		if err != nil {
			h.logf("webhook %s: get: %v", event.Kind(), err)
			return http.StatusInternalServerError
		}

		next, err := transition(payment, event)
		if errors.Is(err, domain.ErrInvalidTransition) {
			h.logf("webhook %s: payment_id=%s state=%s rejected: %v", event.Kind(), payment.PaymentID, payment.State(), err)
			return http.StatusBadRequest
		}
		if err != nil {
			h.logf("webhook %s: transition: %v", event.Kind(), err)
			return http.StatusInternalServerError
		}

		err = h.Payments.UpsertPayment(ctx, next, version+1)
		if errors.Is(err, store.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			h.logf("webhook %s: upsert: %v", event.Kind(), err)
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}
	h.logf("webhook %s: version conflict persisted after %d attempts", event.Kind(), maxApplyAttempts)
	return http.StatusInternalServerError
}

func (h *Handler) fetch(ctx context.Context, event Event) (domain.Payment, int64, error) {
	switch e := event.(type) {
	case PaymentAuthorized:
		return h.Payments.GetPayment(ctx, e.PaymentID)
	case PaymentExecuted:
		return h.Payments.GetPayment(ctx, e.PaymentID)
	case PaymentSettled:
		return h.Payments.GetPayment(ctx, e.PaymentID)
	case PaymentFailed:
		return h.Payments.GetPayment(ctx, e.PaymentID)
	case PayoutExecuted:
		return h.Payments.GetPaymentByPayoutID(ctx, e.PayoutID)
	case PayoutFailed:
		return h.Payments.GetPaymentByPayoutID(ctx, e.PayoutID)
	case RefundExecuted:
		return h.Payments.GetPaymentByRefundID(ctx, e.RefundID)
	case RefundFailed:
		return h.Payments.GetPaymentByRefundID(ctx, e.RefundID)
	default:
		return domain.Payment{}, 0, fmt.Errorf("no aggregate lookup for event %q", event.Kind())
	}
}

func transition(p domain.Payment, event Event) (domain.Payment, error) {
	switch e := event.(type) {
	case PaymentAuthorized:
		return p.WithInboundAuthorized(e.AuthorizedAt)
	case PaymentExecuted:
		return p.WithInboundExecuted(e.ExecutedAt)
	case PaymentSettled:
		return p.WithInboundSettled(e.SettledAt)
	case PaymentFailed:
		return p.WithInboundFailed(e.FailedAt)
	case PayoutExecuted:
		return p.WithPayoutExecuted(e.ExecutedAt)
	case PayoutFailed:
		return p.WithPayoutFailed(e.FailedAt)
	case RefundExecuted:
		return p.WithRefundExecuted(e.ExecutedAt)
	case RefundFailed:
		return p.WithRefundFailed(e.FailedAt)
	default:
		return domain.Payment{}, fmt.Errorf("no transition for event %q", event.Kind())
	}
}

func (h *Handler) finish(w http.ResponseWriter, kind, result string, status int) {
	if h.Observe != nil {
		h.Observe(kind, result)
	}
	w.WriteHeader(status)
}

func (h *Handler) logf(format string, args ...any) {
	if h.Logf != nil {
		h.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
