package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
	"github.com/fenlandpay/paygate-go/internal/platform/truelayer"
)

type httpFixture struct {
	*paymentsFixture
	users *usersFixture
	mux   *http.ServeMux
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	f := &httpFixture{
		paymentsFixture: newPaymentsFixture(t),
		users:           newUsersFixture(t),
		mux:             http.NewServeMux(),
	}
	(&PaymentsHandler{Service: f.svc}).Register(f.mux)
	(&UsersHandler{Service: f.users.svc}).Register(f.mux)
	return f
}

func (f *httpFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, rec, &body)
	if body.Error.Kind == "" {
		t.Fatalf("response %q carries no error kind", rec.Body.String())
	}
	return body.Error.Kind
}

const depositBody = `{
	"payer_full_name": "Alice Archer",
	"payer_email": "alice@example.com",
	"payee_full_name": "Bob Builder",
	"payee_email": "bob@example.com",
	"amount_minor": 2500,
	"security_question": "favourite colour",
	"security_answer": "teal"
}`

func TestHTTPCreateDeposit(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/api/payments", depositBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp createDepositResponse
	decodeBody(t, rec, &resp)
	if resp.PaymentID != f.provider.paymentID {
		t.Fatalf("payment id = %s", resp.PaymentID)
	}
	if resp.ResourceToken != "resource-token" {
		t.Fatalf("resource token = %q", resp.ResourceToken)
	}
}

func TestHTTPCreateDepositValidation(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/api/payments", `{"amount_minor": 0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "invalid" {
		t.Fatalf("kind = %q, want invalid", kind)
	}
}

func TestHTTPCreateDepositMalformedJSON(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.do(t, http.MethodPost, "/api/payments", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHTTPGetPayment(t *testing.T) {
	f := newHTTPFixture(t)
	receipt := f.deposit(t)

	rec := f.do(t, http.MethodGet, "/api/payments/"+receipt.PaymentID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var view paymentView
	decodeBody(t, rec, &view)
	if view.PaymentID != receipt.PaymentID || view.State != "inbound_created" || view.Version != 0 {
		t.Fatalf("view = %+v", view)
	}
	if strings.Contains(rec.Body.String(), "security_answer") {
		t.Fatalf("security answer leaked into the view: %s", rec.Body.String())
	}
}

func TestHTTPGetPaymentErrors(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodGet, "/api/payments/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/payments/"+domain.NewPaymentID().String(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "not_found" {
		t.Fatalf("kind = %q", kind)
	}
}

func TestHTTPListPayments(t *testing.T) {
	f := newHTTPFixture(t)
	f.deposit(t)

	rec := f.do(t, http.MethodGet, "/api/payments?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Payments []paymentView `json:"payments"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Payments) != 1 {
		t.Fatalf("payments listed = %d, want 1", len(resp.Payments))
	}
}

func TestHTTPPayoutWorkflow(t *testing.T) {
	f := newHTTPFixture(t)
	receipt := f.deposit(t)
	f.settle(t, receipt.PaymentID)

	body := `{"iban": "GB33BUKB20201555555555", "reference": "withdrawal"}`
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/payments/%s/payout", receipt.PaymentID), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["payout_id"] != f.provider.payoutID.String() {
		t.Fatalf("payout_id = %q", resp["payout_id"])
	}

	// replay maps to conflict
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/payments/%s/payout", receipt.PaymentID), body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay status = %d, want 409", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "conflict" {
		t.Fatalf("kind = %q", kind)
	}
}

func TestHTTPPayoutProviderErrorMapping(t *testing.T) {
	f := newHTTPFixture(t)
	receipt := f.deposit(t)
	f.settle(t, receipt.PaymentID)
	body := `{"iban": "GB33BUKB20201555555555", "reference": "withdrawal"}`
	path := fmt.Sprintf("/api/payments/%s/payout", receipt.PaymentID)

	f.provider.payoutErr = &truelayer.TransientError{Op: "create payout", Status: 503}
	rec := f.do(t, http.MethodPost, path, body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("transient status = %d, want 503", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "provider_unavailable" {
		t.Fatalf("kind = %q", kind)
	}
}

func TestHTTPRefundNotSettled(t *testing.T) {
	f := newHTTPFixture(t)
	receipt := f.deposit(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/payments/%s/refund", receipt.PaymentID), `{"reference": "refund"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "conflict" {
		t.Fatalf("kind = %q", kind)
	}
}

func TestHTTPRefundRejectedByProvider(t *testing.T) {
	f := newHTTPFixture(t)
	receipt := f.deposit(t)
	f.settle(t, receipt.PaymentID)
	f.provider.refundErr = &truelayer.RejectedError{Op: "create refund", Status: 400, Code: "invalid_parameters"}

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/payments/%s/refund", receipt.PaymentID), `{"reference": "refund"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "provider_rejected" {
		t.Fatalf("kind = %q", kind)
	}
}

func TestHTTPUserRegistrationWorkflow(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(t, http.MethodPost, "/api/users", `{"email": "carol@example.com", "first_name": "Carol", "last_name": "Chen"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rec.Code, rec.Body.String())
	}
	var reg map[string]string
	decodeBody(t, rec, &reg)
	id, err := domain.ParseUserID(reg["user_id"])
	if err != nil {
		t.Fatalf("user_id %q: %v", reg["user_id"], err)
	}

	rec = f.do(t, http.MethodGet, "/api/users/"+id.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var view userView
	decodeBody(t, rec, &view)
	if view.Kind != "registering" || view.CodeIssuedAt == nil {
		t.Fatalf("view = %+v", view)
	}

	user, _, err := f.users.store.GetUser(t.Context(), id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	rec = f.do(t, http.MethodPost, "/api/users/"+id.String()+"/confirm", fmt.Sprintf(`{"code": %q}`, user.Data.Code))
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/users/"+id.String(), "")
	view = userView{}
	decodeBody(t, rec, &view)
	if view.Kind != "registered" || view.CodeIssuedAt != nil {
		t.Fatalf("post-confirm view = %+v", view)
	}
}

func TestHTTPConfirmWrongCode(t *testing.T) {
	f := newHTTPFixture(t)
	user, err := f.users.svc.Register(t.Context(), "carol@example.com", "Carol", "Chen")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	wrong := "000000"
	if wrong == user.Data.Code {
		wrong = "000001"
	}
	rec := f.do(t, http.MethodPost, "/api/users/"+user.UserID.String()+"/confirm", fmt.Sprintf(`{"code": %q}`, wrong))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "conflict" {
		t.Fatalf("kind = %q", kind)
	}
}

func TestHTTPRequestBodyLimit(t *testing.T) {
	f := newHTTPFixture(t)
	huge := `{"payer_full_name": "` + strings.Repeat("a", maxRequestBytes) + `"}`
	rec := f.do(t, http.MethodPost, "/api/payments", huge)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
