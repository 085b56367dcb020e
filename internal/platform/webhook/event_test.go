package webhook

import (
	"fmt"
	"testing"
	"time"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

func TestDecodeEventNormalizesTimestampsToUTC(t *testing.T) {
	paymentID := domain.NewPaymentID()
	body := fmt.Sprintf(`{"type":"payment_settled","payment_id":%q,"settled_at":"2026-03-14T10:30:00+01:00"}`, paymentID)
	event, err := DecodeEvent([]byte(body))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	settled, ok := event.(PaymentSettled)
	if !ok {
		t.Fatalf("event = %T", event)
	}
	want := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if !settled.SettledAt.Equal(want) || settled.SettledAt.Location() != time.UTC {
		t.Fatalf("settled at = %v, want %v in UTC", settled.SettledAt, want)
	}
}

func TestDecodeEventMissingTypeIsAnError(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"event_id":"evt-1"}`)); err == nil {
		t.Fatalf("missing type accepted")
	}
}

func TestDecodeEventUnknownTypeIsUnhandledNotError(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"mandate_revoked"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	unhandled, ok := event.(Unhandled)
	if !ok || unhandled.TypeName != "mandate_revoked" {
		t.Fatalf("event = %#v", event)
	}
}

func TestDecodeEventMissingTimestampIsAnError(t *testing.T) {
	body := fmt.Sprintf(`{"type":"payment_settled","payment_id":%q}`, domain.NewPaymentID())
	if _, err := DecodeEvent([]byte(body)); err == nil {
		t.Fatalf("missing settled_at accepted")
	}
}
