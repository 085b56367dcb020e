package webhook

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
	"github.com/fenlandpay/paygate-go/internal/platform/store"
)

type handlerFixture struct {
	signer   *signer
	store    *store.MemoryStore
	handler  *Handler
	observed map[string]string
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	s := newSigner(t)
	st := store.NewMemoryStore()
	f := &handlerFixture{
		signer:   s,
		store:    st,
		observed: map[string]string{},
	}
	f.handler = &Handler{
		Verifier: s.verifier(t),
		Payments: st,
		Observe:  func(kind, result string) { f.observed[kind] = result },
		Logf:     t.Logf,
	}
	return f
}

func (f *handlerFixture) deliver(t *testing.T, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := f.signer.signedRequest(t, body, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) seedPayment(t *testing.T) domain.Payment {
	t.Helper()
	p, err := domain.NewPayment(
		domain.NewPaymentID(),
		"Alice Archer", "alice@example.com",
		"Bob Builder", "bob@example.com",
		2500,
		"favourite colour", "teal",
		time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("NewPayment: %v", err)
	}
	if err := f.store.UpsertPayment(t.Context(), p, 0); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

func paymentEvent(kind string, paymentID domain.PaymentID, field, at string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"event_id":"evt-1","payment_id":%q,%q:%q}`, kind, paymentID, field, at))
}

func TestHandlerDrivesInboundLifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	p := f.seedPayment(t)

	steps := []struct {
		kind  string
		field string
		at    string
		want  domain.PaymentState
	}{
		{"payment_authorized", "authorized_at", "2026-03-14T09:01:00Z", domain.StateInboundAuthorized},
		{"payment_executed", "executed_at", "2026-03-14T09:02:00Z", domain.StateInboundExecuted},
		{"payment_settled", "settled_at", "2026-03-14T09:03:00Z", domain.StateInboundSettled},
	}
	for i, step := range steps {
		rec := f.deliver(t, paymentEvent(step.kind, p.PaymentID, step.field, step.at))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, want 200", step.kind, rec.Code)
		}
		got, version, err := f.store.GetPayment(t.Context(), p.PaymentID)
		if err != nil {
			t.Fatalf("%s: get: %v", step.kind, err)
		}
		if got.State() != step.want {
			t.Fatalf("%s: state = %s, want %s", step.kind, got.State(), step.want)
		}
		if version != int64(i)+1 {
			t.Fatalf("%s: version = %d, want %d", step.kind, version, i+1)
		}
		if f.observed[step.kind] != "applied" {
			t.Fatalf("%s: observed result = %q", step.kind, f.observed[step.kind])
		}
	}
}

func TestHandlerIdempotentRedelivery(t *testing.T) {
	f := newHandlerFixture(t)
	p := f.seedPayment(t)
	body := paymentEvent("payment_executed", p.PaymentID, "executed_at", "2026-03-14T09:02:00Z")

	for i := 0; i < 2; i++ {
		if rec := f.deliver(t, body); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, rec.Code)
		}
	}
	got, _, err := f.store.GetPayment(t.Context(), p.PaymentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State() != domain.StateInboundExecuted {
		t.Fatalf("state = %s", got.State())
	}
	if !got.Inbound.ExecutedAt.Equal(time.Date(2026, 3, 14, 9, 2, 0, 0, time.UTC)) {
		t.Fatalf("executed-at drifted: %v", got.Inbound.ExecutedAt)
	}
}

func TestHandlerRejectsConflictingRedelivery(t *testing.T) {
	f := newHandlerFixture(t)
	p := f.seedPayment(t)

	if rec := f.deliver(t, paymentEvent("payment_executed", p.PaymentID, "executed_at", "2026-03-14T09:02:00Z")); rec.Code != http.StatusOK {
		t.Fatalf("first delivery: %d", rec.Code)
	}
	rec := f.deliver(t, paymentEvent("payment_executed", p.PaymentID, "executed_at", "2026-03-14T09:05:00Z"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("conflicting redelivery status = %d, want 400", rec.Code)
	}
	if f.observed["payment_executed"] != "invalid" {
		t.Fatalf("observed result = %q", f.observed["payment_executed"])
	}
}

func TestHandlerUnknownAggregateIs400(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.deliver(t, paymentEvent("payment_settled", domain.NewPaymentID(), "settled_at", "2026-03-14T09:03:00Z"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerUnsignedRequestIs401(t *testing.T) {
	f := newHandlerFixture(t)
	p := f.seedPayment(t)
	body := paymentEvent("payment_settled", p.PaymentID, "settled_at", "2026-03-14T09:03:00Z")

	req := httptest.NewRequest(http.MethodPost, "/tl_webhook", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	got, version, err := f.store.GetPayment(t.Context(), p.PaymentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 0 || got.State() != domain.StateInboundCreated {
		t.Fatalf("unsigned request changed state: version=%d state=%s", version, got.State())
	}
}

func TestHandlerMalformedBodyIs400(t *testing.T) {
	f := newHandlerFixture(t)
	for _, body := range []string{`not json`, `{"event_id":"evt-1"}`, `{"type":"payment_settled","payment_id":"nope"}`} {
		rec := f.deliver(t, []byte(body))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestHandlerUnknownTypeIs501(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.deliver(t, []byte(`{"type":"mandate_revoked","event_id":"evt-1"}`))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
	if f.observed["unhandled"] != "not_implemented" {
		t.Fatalf("observed = %v", f.observed)
	}
}

func TestHandlerExternalPaymentAcknowledgedNotApplied(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"type":"external_payment_received","transaction_id":"tx-1","amount_in_minor":120,"currency":"GBP","settled_at":"2026-03-14T09:03:00Z"}`)
	rec := f.deliver(t, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.observed["external_payment_received"] != "ignored" {
		t.Fatalf("observed = %v", f.observed)
	}
	page, err := f.store.ListPayments(t.Context(), 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("external payment fabricated an aggregate")
	}
}

func TestHandlerPayoutEventsRouteThroughIndex(t *testing.T) {
	f := newHandlerFixture(t)
	p := f.seedPayment(t)

	p, err := p.WithPayoutRegistering(time.Date(2026, 3, 14, 9, 10, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("registering: %v", err)
	}
	payoutID := domain.NewPayoutID()
	p, err = p.WithPayoutCreated(payoutID, time.Date(2026, 3, 14, 9, 11, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("created: %v", err)
	}
	if err := f.store.UpsertPayment(t.Context(), p, 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	body := []byte(fmt.Sprintf(`{"type":"payout_executed","event_id":"evt-1","payout_id":%q,"executed_at":"2026-03-14T09:12:00Z"}`, payoutID))
	rec := f.deliver(t, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	got, _, err := f.store.GetPayment(t.Context(), p.PaymentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State() != domain.StatePayoutExecuted {
		t.Fatalf("state = %s, want payout_executed", got.State())
	}
}

func TestHandlerRefundFailureIsTerminal(t *testing.T) {
	f := newHandlerFixture(t)
	p := f.seedPayment(t)

	p, err := p.WithInboundSettled(time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("settled: %v", err)
	}
	p, err = p.WithRefundRegistering(time.Date(2026, 3, 14, 9, 10, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("registering: %v", err)
	}
	refundID := domain.NewRefundID()
	p, err = p.WithRefundCreated(refundID, time.Date(2026, 3, 14, 9, 11, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("created: %v", err)
	}
	if err := f.store.UpsertPayment(t.Context(), p, 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	failed := []byte(fmt.Sprintf(`{"type":"refund_failed","event_id":"evt-1","refund_id":%q,"failed_at":"2026-03-14T09:12:00Z","failure_reason":"scheme_error"}`, refundID))
	if rec := f.deliver(t, failed); rec.Code != http.StatusOK {
		t.Fatalf("failed delivery status = %d", rec.Code)
	}

	executed := []byte(fmt.Sprintf(`{"type":"refund_executed","event_id":"evt-2","refund_id":%q,"executed_at":"2026-03-14T09:13:00Z"}`, refundID))
	if rec := f.deliver(t, executed); rec.Code != http.StatusBadRequest {
		t.Fatalf("executed-after-failed status = %d, want 400", rec.Code)
	}
}
