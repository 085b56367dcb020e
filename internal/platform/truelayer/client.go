// Package truelayer is the wire client for the external bank-payment
// provider. It is stateless apart from the auth token cache; retry and
// timeout policy live here so callers only see classified outcomes.
package truelayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fenlandpay/paygate-go/internal/platform/clock"
	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

const (
	requestTimeout = 2500 * time.Millisecond
	maxRetries     = 3
	backoffInitial = 300 * time.Millisecond
	backoffMax     = 2 * time.Second

	// tokens are refreshed slightly ahead of expiry
	tokenSlack = 30 * time.Second
)

type Client struct {
	cfg   Config
	http  *http.Client
	clock clock.Clock

	tokenMu    sync.Mutex
	token      string
	tokenUntil time.Time
	refresh    singleflight.Group
}

func NewClient(cfg Config, clk clock.Clock) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: requestTimeout},
		clock: clk,
	}
}

// CreatePayment opens the inbound leg with the provider: a bank transfer
// into the merchant account. The caller-supplied idempotency key makes
// transient retries safe; a timeout or 5xx re-enters the bounded retry loop
// without risking a duplicate payment.
func (c *Client) CreatePayment(ctx context.Context, params CreatePaymentParams) (CreatePaymentResult, error) {
	const op = "create payment"
	body := createPaymentRequest{
		AmountInMinor: params.AmountMinor,
		Currency:      "GBP",
		PaymentMethod: paymentMethodRequest{
			Type: "bank_transfer",
			ProviderSelection: providerSelection{
				Type: "user_selected",
				SchemeSelection: schemeSelection{
					Type:             "instant_only",
					AllowRemitterFee: false,
				},
			},
			Beneficiary: beneficiaryRequest{
				Type:              "merchant_account",
				MerchantAccountID: c.cfg.MerchantAccountID,
				Reference:         params.Reference,
			},
		},
		User: userRequest{Name: params.PayerFullName, Email: params.PayerEmail},
	}

	var resp createPaymentResponse
	err := c.callIdempotent(ctx, op, http.MethodPost, c.cfg.Environment.APIBaseURL+"/v3/payments", params.IdempotencyKey, body, http.StatusCreated, &resp)
	if err != nil {
		return CreatePaymentResult{}, err
	}
	paymentID, err := domain.ParsePaymentID(resp.ID)
	if err != nil {
		return CreatePaymentResult{}, transient(op, fmt.Errorf("provider returned malformed payment id: %w", err))
	}
	return CreatePaymentResult{
		PaymentID:      paymentID,
		ProviderUserID: resp.User.ID,
		ResourceToken:  resp.ResourceToken,
	}, nil
}

// CreatePayout sends money out. The caller-supplied idempotency key makes
// transient retries safe, so the bounded retry loop is enabled.
func (c *Client) CreatePayout(ctx context.Context, params CreatePayoutParams) (domain.PayoutID, error) {
	const op = "create payout"
	body := createPayoutRequest{
		AmountInMinor:     params.AmountMinor,
		MerchantAccountID: c.cfg.MerchantAccountID,
		Currency:          "GBP",
		Beneficiary: beneficiaryRequest{
			Type:              "external_account",
			Reference:         params.Reference,
			AccountHolderName: params.BeneficiaryName,
			AccountIdentifier: &accountIdentifier{Type: "iban", IBAN: params.IBAN},
		},
	}

	var resp createPayoutResponse
	err := c.callIdempotent(ctx, op, http.MethodPost, c.cfg.Environment.APIBaseURL+"/v3/payouts", params.IdempotencyKey, body, http.StatusCreated, &resp)
	if err != nil {
		return domain.PayoutID{}, err
	}
	payoutID, err := domain.ParsePayoutID(resp.ID)
	if err != nil {
		return domain.PayoutID{}, transient(op, fmt.Errorf("provider returned malformed payout id: %w", err))
	}
	return payoutID, nil
}

// CreateRefund refunds an inbound payment back to the remitter.
func (c *Client) CreateRefund(ctx context.Context, params CreateRefundParams) (domain.RefundID, error) {
	const op = "create refund"
	body := createRefundRequest{
		AmountInMinor: params.AmountMinor,
		Reference:     params.Reference,
	}
	url := fmt.Sprintf("%s/v3/payments/%s/refunds", c.cfg.Environment.APIBaseURL, params.PaymentID)

	var resp createRefundResponse
	err := c.callIdempotent(ctx, op, http.MethodPost, url, params.IdempotencyKey, body, http.StatusCreated, &resp)
	if err != nil {
		return domain.RefundID{}, err
	}
	refundID, err := domain.ParseRefundID(resp.ID)
	if err != nil {
		return domain.RefundID{}, transient(op, fmt.Errorf("provider returned malformed refund id: %w", err))
	}
	return refundID, nil
}

// callIdempotent is the bounded retry loop. Only transient outcomes re-enter
// the loop; rejections and context cancellation leave immediately.
func (c *Client) callIdempotent(ctx context.Context, op, method, url, idemKey string, body any, wantStatus int, out any) error {
	backoff := backoffInitial
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return transient(op, ctx.Err())
			case <-timer.C:
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
		err := c.call(ctx, op, method, url, idemKey, body, wantStatus, out)
		if err == nil {
			return nil
		}
		lastErr = err
		var te *TransientError
		if !errors.As(err, &te) {
			return err
		}
	}
	return lastErr
}

func (c *Client) call(ctx context.Context, op, method, url, idemKey string, body any, wantStatus int, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("truelayer %s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("truelayer %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transient(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == wantStatus:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return transient(op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return transientStatus(op, resp.StatusCode)
	default:
		var perr providerErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&perr)
		return &RejectedError{Op: op, Status: resp.StatusCode, Code: perr.Type, Detail: perr.Detail}
	}
}

// accessToken returns a cached client-credentials token, refreshing it when
// it is near expiry. Only the refresh decision is serialized: concurrent
// callers needing a refresh await the same in-flight auth call, while callers
// holding a valid token never block on the refresh.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	if c.token != "" && c.clock.Now().Before(c.tokenUntil.Add(-tokenSlack)) {
		token := c.token
		c.tokenMu.Unlock()
		return token, nil
	}
	c.tokenMu.Unlock()

	v, err, _ := c.refresh.Do("token", func() (any, error) {
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	const op = "auth"
	payload, err := json.Marshal(authRequest{
		GrantType:    "client_credentials",
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Scope:        "payments",
	})
	if err != nil {
		return "", fmt.Errorf("truelayer %s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Environment.AuthBaseURL+"/connect/token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("truelayer %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", transientStatus(op, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var perr providerErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&perr)
		return "", &RejectedError{Op: op, Status: resp.StatusCode, Code: perr.Type, Detail: perr.Detail}
	}
	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", transient(op, fmt.Errorf("decode response: %w", err))
	}
	if auth.AccessToken == "" {
		return "", transient(op, fmt.Errorf("provider returned empty access token"))
	}

	c.tokenMu.Lock()
	c.token = auth.AccessToken
	c.tokenUntil = c.clock.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)
	c.tokenMu.Unlock()
	return auth.AccessToken, nil
}
