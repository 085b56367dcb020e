package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
	"github.com/fenlandpay/paygate-go/internal/platform/store"
	"github.com/fenlandpay/paygate-go/internal/platform/truelayer"
)

const maxRequestBytes = 64 << 10

// errorBody is the only error shape interactive callers ever see. Raw
// provider and store detail stays inside the process.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeErrorKind(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// writeError maps internal errors onto the closed error vocabulary.
func writeError(w http.ResponseWriter, err error) {
	var vErr *ValidationError
	var rejected *truelayer.RejectedError
	var transient *truelayer.TransientError
	switch {
	case errors.As(err, &vErr):
		writeErrorKind(w, http.StatusBadRequest, "invalid", vErr.Msg)
	case errors.Is(err, store.ErrNotFound):
		writeErrorKind(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, ErrAlreadyProcessed):
		writeErrorKind(w, http.StatusConflict, "conflict", "payment already processed")
	case errors.Is(err, ErrNotSettled):
		writeErrorKind(w, http.StatusConflict, "conflict", "payment not settled")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeErrorKind(w, http.StatusConflict, "conflict", "invalid state transition")
	case errors.Is(err, store.ErrConcurrentUpdate):
		writeErrorKind(w, http.StatusConflict, "conflict", "concurrent update, retry")
	case errors.As(err, &rejected):
		writeErrorKind(w, http.StatusBadGateway, "provider_rejected", "provider rejected the request")
	case errors.As(err, &transient):
		writeErrorKind(w, http.StatusServiceUnavailable, "provider_unavailable", "provider unavailable, retry later")
	default:
		log.Printf("internal error: %v", err)
		writeErrorKind(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return validationf("read request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return validationf("malformed json body")
	}
	return nil
}
