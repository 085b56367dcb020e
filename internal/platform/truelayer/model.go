package truelayer

import (
	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

// Environment selects the provider endpoints. Mock points both API and auth
// at a local server for tests and development.
type Environment struct {
	APIBaseURL  string
	AuthBaseURL string
}

func Sandbox() Environment {
	return Environment{
		APIBaseURL:  "https://api.truelayer-sandbox.com",
		AuthBaseURL: "https://auth.truelayer-sandbox.com",
	}
}

func Production() Environment {
	return Environment{
		APIBaseURL:  "https://api.truelayer.com",
		AuthBaseURL: "https://auth.truelayer.com",
	}
}

func Mock(baseURL string) Environment {
	return Environment{APIBaseURL: baseURL, AuthBaseURL: baseURL}
}

// Config is read-only process-wide configuration loaded once at startup.
type Config struct {
	Environment       Environment
	ClientID          string
	ClientSecret      string
	MerchantAccountID string
	ReturnURI         string
}

// CreatePaymentParams describes the inbound (pay-in) leg to open with the
// provider.
type CreatePaymentParams struct {
	PayerFullName  string
	PayerEmail     string
	AmountMinor    int64
	Reference      string
	IdempotencyKey string
}

// CreatePaymentResult carries the provider-assigned identifiers for a new
// payment. ResourceToken is one-time and returned to the caller to drive
// authorization.
type CreatePaymentResult struct {
	PaymentID      domain.PaymentID
	ProviderUserID string
	ResourceToken  string
}

// CreatePayoutParams describes a payout to an external account.
type CreatePayoutParams struct {
	BeneficiaryName string
	IBAN            string
	AmountMinor     int64
	Reference       string
	IdempotencyKey  string
}

// CreateRefundParams describes a refund of an inbound payment.
type CreateRefundParams struct {
	PaymentID      domain.PaymentID
	AmountMinor    int64
	Reference      string
	IdempotencyKey string
}

type authRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type createPaymentRequest struct {
	AmountInMinor int64                `json:"amount_in_minor"`
	Currency      string               `json:"currency"`
	PaymentMethod paymentMethodRequest `json:"payment_method"`
	User          userRequest          `json:"user"`
}

type paymentMethodRequest struct {
	Type              string             `json:"type"`
	ProviderSelection providerSelection  `json:"provider_selection"`
	Beneficiary       beneficiaryRequest `json:"beneficiary"`
}

type providerSelection struct {
	Type            string          `json:"type"`
	SchemeSelection schemeSelection `json:"scheme_selection"`
}

type schemeSelection struct {
	Type             string `json:"type"`
	AllowRemitterFee bool   `json:"allow_remitter_fee"`
}

type beneficiaryRequest struct {
	Type              string `json:"type"`
	MerchantAccountID string `json:"merchant_account_id,omitempty"`
	Reference         string `json:"reference"`
	AccountHolderName string `json:"account_holder_name,omitempty"`

	AccountIdentifier *accountIdentifier `json:"account_identifier,omitempty"`
}

type accountIdentifier struct {
	Type string `json:"type"`
	IBAN string `json:"iban"`
}

type userRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type createPaymentResponse struct {
	ID            string `json:"id"`
	ResourceToken string `json:"resource_token"`
	Status        string `json:"status"`
	User          struct {
		ID string `json:"id"`
	} `json:"user"`
}

type createPayoutRequest struct {
	AmountInMinor     int64              `json:"amount_in_minor"`
	MerchantAccountID string             `json:"merchant_account_id"`
	Currency          string             `json:"currency"`
	Beneficiary       beneficiaryRequest `json:"beneficiary"`
}

type createPayoutResponse struct {
	ID string `json:"id"`
}

type createRefundRequest struct {
	AmountInMinor int64  `json:"amount_in_minor"`
	Reference     string `json:"reference"`
}

type createRefundResponse struct {
	ID string `json:"id"`
}

type providerErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}
