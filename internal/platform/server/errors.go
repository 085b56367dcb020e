package server

import "errors"

var (
	// ErrAlreadyProcessed means the requested money movement was already
	// started or completed against this payment. The external provider is
	// never called in this case.
	ErrAlreadyProcessed = errors.New("payment already processed")

	// ErrNotSettled means a refund was requested before the inbound leg
	// settled.
	ErrNotSettled = errors.New("payment not settled")
)

// ValidationError carries a caller-facing description of a rejected request.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(msg string) error { return &ValidationError{Msg: msg} }
