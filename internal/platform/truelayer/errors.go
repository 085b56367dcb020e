package truelayer

import "fmt"

// TransientError covers network failures, timeouts and 5xx responses. Calls
// failing this way are safe to retry with the same idempotency key.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("truelayer %s: transient status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("truelayer %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError is a business rejection from the provider. Never retried.
type RejectedError struct {
	Op     string
	Status int
	Code   string
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("truelayer %s: rejected with status %d code %q: %s", e.Op, e.Status, e.Code, e.Detail)
}

func transient(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

func transientStatus(op string, status int) *TransientError {
	return &TransientError{Op: op, Status: status}
}
