package server

import (
	"context"
	"errors"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
	"github.com/fenlandpay/paygate-go/internal/platform/truelayer"
)

// InstrumentProvider wraps a provider client so every call lands in the
// provider call counter. The wire client itself stays metrics-free.
func InstrumentProvider(inner ProviderClient, metrics *Metrics) ProviderClient {
	return &instrumentedProvider{inner: inner, metrics: metrics}
}

type instrumentedProvider struct {
	inner   ProviderClient
	metrics *Metrics
}

func (p *instrumentedProvider) CreatePayment(ctx context.Context, params truelayer.CreatePaymentParams) (truelayer.CreatePaymentResult, error) {
	result, err := p.inner.CreatePayment(ctx, params)
	p.metrics.ObserveProviderCall("create_payment", callResult(err))
	return result, err
}

func (p *instrumentedProvider) CreatePayout(ctx context.Context, params truelayer.CreatePayoutParams) (domain.PayoutID, error) {
	id, err := p.inner.CreatePayout(ctx, params)
	p.metrics.ObserveProviderCall("create_payout", callResult(err))
	return id, err
}

func (p *instrumentedProvider) CreateRefund(ctx context.Context, params truelayer.CreateRefundParams) (domain.RefundID, error) {
	id, err := p.inner.CreateRefund(ctx, params)
	p.metrics.ObserveProviderCall("create_refund", callResult(err))
	return id, err
}

func callResult(err error) string {
	var rejected *truelayer.RejectedError
	var transient *truelayer.TransientError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &transient):
		return "transient"
	default:
		return "error"
	}
}
