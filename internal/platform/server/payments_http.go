package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

// PaymentsHandler exposes the payment workflows over JSON.
type PaymentsHandler struct {
	Service *PaymentsService
}

func (h *PaymentsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/payments", h.createDeposit)
	mux.HandleFunc("GET /api/payments", h.list)
	mux.HandleFunc("GET /api/payments/{id}", h.get)
	mux.HandleFunc("POST /api/payments/{id}/payout", h.createPayout)
	mux.HandleFunc("POST /api/payments/{id}/refund", h.createRefund)
}

type createDepositRequest struct {
	PayerFullName    string `json:"payer_full_name"`
	PayerEmail       string `json:"payer_email"`
	PayeeFullName    string `json:"payee_full_name"`
	PayeeEmail       string `json:"payee_email"`
	AmountMinor      int64  `json:"amount_minor"`
	SecurityQuestion string `json:"security_question"`
	SecurityAnswer   string `json:"security_answer"`
}

type createDepositResponse struct {
	PaymentID     domain.PaymentID `json:"payment_id"`
	ResourceToken string           `json:"resource_token"`
}

func (h *PaymentsHandler) createDeposit(w http.ResponseWriter, r *http.Request) {
	var req createDepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := h.Service.CreateDeposit(r.Context(), DepositForm{
		PayerFullName:    req.PayerFullName,
		PayerEmail:       req.PayerEmail,
		PayeeFullName:    req.PayeeFullName,
		PayeeEmail:       req.PayeeEmail,
		AmountMinor:      req.AmountMinor,
		SecurityQuestion: req.SecurityQuestion,
		SecurityAnswer:   req.SecurityAnswer,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createDepositResponse{
		PaymentID:     receipt.PaymentID,
		ResourceToken: receipt.ResourceToken,
	})
}

type paymentView struct {
	PaymentID        domain.PaymentID `json:"payment_id"`
	Version          int64            `json:"version"`
	State            string           `json:"state"`
	PayerFullName    string           `json:"payer_full_name"`
	PayerEmail       string           `json:"payer_email"`
	PayeeFullName    string           `json:"payee_full_name"`
	PayeeEmail       string           `json:"payee_email"`
	AmountMinor      int64            `json:"amount_minor"`
	SecurityQuestion string           `json:"security_question"`
	Inbound          legTimesView     `json:"inbound"`
	Payout           *outboundView    `json:"payout,omitempty"`
	Refund           *outboundView    `json:"refund,omitempty"`
}

type legTimesView struct {
	CreatedAt    time.Time  `json:"created_at"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

type outboundView struct {
	Kind         string     `json:"kind"`
	ID           string     `json:"id,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

func viewPayment(p domain.Payment, version int64) paymentView {
	v := paymentView{
		PaymentID:        p.PaymentID,
		Version:          version,
		State:            p.State().String(),
		PayerFullName:    p.PayerFullName,
		PayerEmail:       p.PayerEmail,
		PayeeFullName:    p.PayeeFullName,
		PayeeEmail:       p.PayeeEmail,
		AmountMinor:      p.AmountMinor,
		SecurityQuestion: p.SecurityQuestion,
		Inbound: legTimesView{
			CreatedAt:    p.Inbound.CreatedAt,
			AuthorizedAt: p.Inbound.AuthorizedAt,
			ExecutedAt:   p.Inbound.ExecutedAt,
			SettledAt:    p.Inbound.SettledAt,
			FailedAt:     p.Inbound.FailedAt,
		},
	}
	if p.Payout != nil {
		v.Payout = viewOutbound(p.Payout.Kind, p.Payout.PayoutID.String(), p.Payout.RegisteredAt, p.Payout.CreatedAt, p.Payout.ExecutedAt, p.Payout.FailedAt)
	}
	if p.Refund != nil {
		v.Refund = viewOutbound(p.Refund.Kind, p.Refund.RefundID.String(), p.Refund.RegisteredAt, p.Refund.CreatedAt, p.Refund.ExecutedAt, p.Refund.FailedAt)
	}
	return v
}

func viewOutbound(kind domain.LegKind, id string, registeredAt, createdAt time.Time, executedAt, failedAt *time.Time) *outboundView {
	out := &outboundView{
		Kind:         string(kind),
		RegisteredAt: registeredAt,
		ExecutedAt:   executedAt,
		FailedAt:     failedAt,
	}
	if kind == domain.LegCreated {
		out.ID = id
		out.CreatedAt = &createdAt
	}
	return out
}

func (h *PaymentsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParsePaymentID(r.PathValue("id"))
	if err != nil {
		writeError(w, validationf("malformed payment id"))
		return
	}
	payment, version, err := h.Service.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPayment(payment, version))
}

func (h *PaymentsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	page, err := h.Service.ListPayments(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]paymentView, 0, len(page))
	for _, vp := range page {
		views = append(views, viewPayment(vp.Payment, vp.Version))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": views})
}

type createPayoutRequest struct {
	IBAN      string `json:"iban"`
	Reference string `json:"reference"`
}

func (h *PaymentsHandler) createPayout(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParsePaymentID(r.PathValue("id"))
	if err != nil {
		writeError(w, validationf("malformed payment id"))
		return
	}
	var req createPayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	payoutID, err := h.Service.CreatePayout(r.Context(), id, req.IBAN, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"payout_id": payoutID.String()})
}

type createRefundRequest struct {
	Reference string `json:"reference"`
}

func (h *PaymentsHandler) createRefund(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParsePaymentID(r.PathValue("id"))
	if err != nil {
		writeError(w, validationf("malformed payment id"))
		return
	}
	var req createRefundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	refundID, err := h.Service.CreateRefund(r.Context(), id, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"refund_id": refundID.String()})
}
