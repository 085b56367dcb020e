package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fenlandpay/paygate-go/internal/platform/clock"
	"github.com/fenlandpay/paygate-go/internal/platform/domain"
	"github.com/fenlandpay/paygate-go/internal/platform/store"
	"github.com/fenlandpay/paygate-go/internal/platform/truelayer"
)

// Version conflicts between an orchestration and a racing webhook are
// expected; the losing writer re-reads and re-applies.
const maxUpsertAttempts = 3

// ProviderClient is the slice of the wire client the orchestrator consumes.
type ProviderClient interface {
	CreatePayment(ctx context.Context, params truelayer.CreatePaymentParams) (truelayer.CreatePaymentResult, error)
	CreatePayout(ctx context.Context, params truelayer.CreatePayoutParams) (domain.PayoutID, error)
	CreateRefund(ctx context.Context, params truelayer.CreateRefundParams) (domain.RefundID, error)
}

// PaymentsService sequences provider calls against the versioned store. It
// is the only payment writer besides the webhook dispatcher.
type PaymentsService struct {
	Clock    clock.Clock
	Store    store.PaymentStore
	Provider ProviderClient
	Metrics  *Metrics
	Logf     func(format string, args ...any)
}

func NewPaymentsService(clk clock.Clock, st store.PaymentStore, provider ProviderClient, metrics *Metrics) *PaymentsService {
	return &PaymentsService{
		Clock:    clk,
		Store:    st,
		Provider: provider,
		Metrics:  metrics,
		Logf:     log.Printf,
	}
}

// DepositForm is the caller's request to register a deposit intent.
type DepositForm struct {
	PayerFullName    string
	PayerEmail       string
	PayeeFullName    string
	PayeeEmail       string
	AmountMinor      int64
	SecurityQuestion string
	SecurityAnswer   string
}

// DepositReceipt is returned to the caller on a created deposit. The
// resource token is one-time provider material used to drive authorization.
type DepositReceipt struct {
	PaymentID     domain.PaymentID
	ResourceToken string
}

// CreateDeposit registers a deposit with the provider and persists the new
// aggregate. On provider failure nothing is persisted and the provider error
// surfaces unmodified in kind. The workflow runs to completion even if the
// caller disconnects.
func (s *PaymentsService) CreateDeposit(ctx context.Context, form DepositForm) (DepositReceipt, error) {
	if err := form.validate(); err != nil {
		return DepositReceipt{}, err
	}
	ctx = context.WithoutCancel(ctx)

	result, err := s.Provider.CreatePayment(ctx, truelayer.CreatePaymentParams{
		PayerFullName:  form.PayerFullName,
		PayerEmail:     form.PayerEmail,
		AmountMinor:    form.AmountMinor,
		Reference:      depositReference(form.PayeeFullName),
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		s.Metrics.ObserveOrchestration("deposit", "provider_error")
		return DepositReceipt{}, err
	}

	payment, err := domain.NewPayment(
		result.PaymentID,
		form.PayerFullName, form.PayerEmail,
		form.PayeeFullName, form.PayeeEmail,
		form.AmountMinor,
		form.SecurityQuestion, form.SecurityAnswer,
		s.Clock.Now(),
	)
	if err != nil {
		return DepositReceipt{}, err
	}
	if err := s.Store.UpsertPayment(ctx, payment, 0); err != nil {
		s.Metrics.ObserveOrchestration("deposit", "store_error")
		return DepositReceipt{}, fmt.Errorf("persist payment %s: %w", result.PaymentID, err)
	}

	s.Metrics.ObserveOrchestration("deposit", "ok")
	s.logf("deposit created payment_id=%s amount_minor=%d", payment.PaymentID, payment.AmountMinor)
	return DepositReceipt{PaymentID: payment.PaymentID, ResourceToken: result.ResourceToken}, nil
}

// CreatePayout drives the outbound leg: checkpoint the local intent, call
// the provider, record the provider-assigned id. The guard against double
// payout runs against the freshly read value under the version contract, so
// a racing second attempt loses via the conditional write, not by luck.
func (s *PaymentsService) CreatePayout(ctx context.Context, paymentID domain.PaymentID, iban, reference string) (domain.PayoutID, error) {
	if strings.TrimSpace(iban) == "" {
		return domain.PayoutID{}, validationf("iban must be non-empty")
	}
	ctx = context.WithoutCancel(ctx)

	payment, err := s.checkpointPayout(ctx, paymentID)
	if err != nil {
		return domain.PayoutID{}, err
	}

	payoutID, err := s.Provider.CreatePayout(ctx, truelayer.CreatePayoutParams{
		BeneficiaryName: payment.PayeeFullName,
		IBAN:            iban,
		AmountMinor:     payment.AmountMinor,
		Reference:       reference,
		IdempotencyKey:  uuid.NewString(),
	})
	if err != nil {
		// the aggregate stays in the registering state; the
		// reconciliation listing surfaces it for operators
		s.Metrics.ObserveOrchestration("payout", "provider_error")
		s.logf("payout provider call failed payment_id=%s: %v", paymentID, err)
		return domain.PayoutID{}, err
	}

	if err := s.recordPayoutCreated(ctx, paymentID, payoutID); err != nil {
		s.Metrics.ObserveOrchestration("payout", "store_error")
		return domain.PayoutID{}, err
	}

	s.Metrics.ObserveOrchestration("payout", "ok")
	s.logf("payout created payment_id=%s payout_id=%s", paymentID, payoutID)
	return payoutID, nil
}

// checkpointPayout performs the guarded durability checkpoint before the
// external call and returns the registered payment.
func (s *PaymentsService) checkpointPayout(ctx context.Context, paymentID domain.PaymentID) (domain.Payment, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		payment, version, err := s.Store.GetPayment(ctx, paymentID)
		if err != nil {
			return domain.Payment{}, err
		}
		if payment.State() >= domain.StatePayoutRegistering {
			return domain.Payment{}, fmt.Errorf("payment %s in state %s: %w", paymentID, payment.State(), ErrAlreadyProcessed)
		}

		registered, err := payment.WithPayoutRegistering(s.Clock.Now())
		if err != nil {
			return domain.Payment{}, err
		}
		err = s.Store.UpsertPayment(ctx, registered, version+1)
		if errors.Is(err, store.ErrConcurrentUpdate) {
			s.Metrics.ObserveStoreConflict()
			continue
		}
		if err != nil {
			return domain.Payment{}, fmt.Errorf("checkpoint payout for %s: %w", paymentID, err)
		}
		return registered, nil
	}
	return domain.Payment{}, fmt.Errorf("checkpoint payout for %s: %w", paymentID, store.ErrConcurrentUpdate)
}

func (s *PaymentsService) recordPayoutCreated(ctx context.Context, paymentID domain.PaymentID, payoutID domain.PayoutID) error {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		payment, version, err := s.Store.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		created, err := payment.WithPayoutCreated(payoutID, s.Clock.Now())
		if err != nil {
			return fmt.Errorf("record payout %s: %w", payoutID, err)
		}
		err = s.Store.UpsertPayment(ctx, created, version+1)
		if errors.Is(err, store.ErrConcurrentUpdate) {
			s.Metrics.ObserveStoreConflict()
			continue
		}
		if err != nil {
			return fmt.Errorf("record payout %s: %w", payoutID, err)
		}
		return nil
	}
	return fmt.Errorf("record payout %s: %w", payoutID, store.ErrConcurrentUpdate)
}

// CreateRefund mirrors the payout workflow over the refund leg. The inbound
// leg must have settled before money can go back.
func (s *PaymentsService) CreateRefund(ctx context.Context, paymentID domain.PaymentID, reference string) (domain.RefundID, error) {
	ctx = context.WithoutCancel(ctx)

	var amount int64
	for attempt := 0; ; attempt++ {
		payment, version, err := s.Store.GetPayment(ctx, paymentID)
		if err != nil {
			return domain.RefundID{}, err
		}
		state := payment.State()
		if state >= domain.StateRefundRegistering || (payment.Payout != nil) {
			return domain.RefundID{}, fmt.Errorf("payment %s in state %s: %w", paymentID, state, ErrAlreadyProcessed)
		}
		if state != domain.StateInboundSettled {
			return domain.RefundID{}, fmt.Errorf("payment %s in state %s: %w", paymentID, state, ErrNotSettled)
		}

		registered, err := payment.WithRefundRegistering(s.Clock.Now())
		if err != nil {
			return domain.RefundID{}, err
		}
		err = s.Store.UpsertPayment(ctx, registered, version+1)
		if errors.Is(err, store.ErrConcurrentUpdate) {
			s.Metrics.ObserveStoreConflict()
			if attempt+1 >= maxUpsertAttempts {
				return domain.RefundID{}, fmt.Errorf("checkpoint refund for %s: %w", paymentID, store.ErrConcurrentUpdate)
			}
			continue
		}
		if err != nil {
			return domain.RefundID{}, fmt.Errorf("checkpoint refund for %s: %w", paymentID, err)
		}
		amount = payment.AmountMinor
		break
	}

	refundID, err := s.Provider.CreateRefund(ctx, truelayer.CreateRefundParams{
		PaymentID:      paymentID,
		AmountMinor:    amount,
		Reference:      reference,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		s.Metrics.ObserveOrchestration("refund", "provider_error")
		s.logf("refund provider call failed payment_id=%s: %v", paymentID, err)
		return domain.RefundID{}, err
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		payment, version, err := s.Store.GetPayment(ctx, paymentID)
		if err != nil {
			return domain.RefundID{}, err
		}
		created, err := payment.WithRefundCreated(refundID, s.Clock.Now())
		if err != nil {
			return domain.RefundID{}, fmt.Errorf("record refund %s: %w", refundID, err)
		}
		err = s.Store.UpsertPayment(ctx, created, version+1)
		if errors.Is(err, store.ErrConcurrentUpdate) {
			s.Metrics.ObserveStoreConflict()
			continue
		}
		if err != nil {
			return domain.RefundID{}, fmt.Errorf("record refund %s: %w", refundID, err)
		}
		s.Metrics.ObserveOrchestration("refund", "ok")
		s.logf("refund created payment_id=%s refund_id=%s", paymentID, refundID)
		return refundID, nil
	}
	return domain.RefundID{}, fmt.Errorf("record refund %s: %w", refundID, store.ErrConcurrentUpdate)
}

// GetPayment returns the aggregate and its version for status views.
func (s *PaymentsService) GetPayment(ctx context.Context, id domain.PaymentID) (domain.Payment, int64, error) {
	return s.Store.GetPayment(ctx, id)
}

// ListPayments backs the admin listing. Read-only.
func (s *PaymentsService) ListPayments(ctx context.Context, limit, offset int) ([]store.VersionedPayment, error) {
	return s.Store.ListPayments(ctx, limit, offset)
}

// ListStaleOutboundRegistrations returns payments whose payout or refund leg
// is stuck in the registering state longer than olderThan: the explicit
// signal that a provider call failed (or its outcome is unknown) after the
// durability checkpoint. These rows are reconciled out of band; nothing
// retries them automatically.
func (s *PaymentsService) ListStaleOutboundRegistrations(ctx context.Context, olderThan time.Duration) ([]store.VersionedPayment, error) {
	cutoff := s.Clock.Now().Add(-olderThan)
	stale := make([]store.VersionedPayment, 0)
	for offset := 0; ; offset += 200 {
		page, err := s.Store.ListPayments(ctx, 200, offset)
		if err != nil {
			return nil, err
		}
		for _, vp := range page {
			p := vp.Payment
			if p.State() == domain.StatePayoutRegistering && p.Payout.RegisteredAt.Before(cutoff) {
				stale = append(stale, vp)
			}
			if p.State() == domain.StateRefundRegistering && p.Refund.RegisteredAt.Before(cutoff) {
				stale = append(stale, vp)
			}
		}
		if len(page) < 200 {
			return stale, nil
		}
	}
}

// StartStaleRegistrationWorker periodically counts outbound legs that sat in
// the registering state longer than olderThan and publishes the count. The
// worker exits when ctx is done.
func (s *PaymentsService) StartStaleRegistrationWorker(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stale, err := s.ListStaleOutboundRegistrations(ctx, olderThan)
				s.Metrics.ObserveStaleScan(len(stale), err)
				if err != nil {
					s.logf("stale registration scan failed: %v", err)
					continue
				}
				if len(stale) > 0 {
					s.logf("stale registration scan found %d payments needing reconciliation", len(stale))
				}
			}
		}
	}()
}

func (f DepositForm) validate() error {
	if f.AmountMinor <= 0 {
		return validationf("amount must be positive")
	}
	if strings.TrimSpace(f.PayerFullName) == "" || strings.TrimSpace(f.PayeeFullName) == "" {
		return validationf("payer and payee names must be non-empty")
	}
	for _, email := range []string{f.PayerEmail, f.PayeeEmail} {
		if _, err := mail.ParseAddress(email); err != nil {
			return validationf(fmt.Sprintf("invalid email %q", email))
		}
	}
	if strings.TrimSpace(f.SecurityQuestion) == "" || strings.TrimSpace(f.SecurityAnswer) == "" {
		return validationf("security question and answer must be non-empty")
	}
	return nil
}

func depositReference(payeeName string) string {
	ref := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, payeeName)
	if len(ref) > 18 {
		ref = ref[:18]
	}
	if ref == "" {
		ref = "deposit"
	}
	return ref
}

func (s *PaymentsService) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
