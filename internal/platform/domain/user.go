package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ConfirmationCodeTTL bounds how long a registration confirmation code stays
// usable after issuance.
const ConfirmationCodeTTL = 24 * time.Hour

// UserKind discriminates the two user variants: registering (holds a
// confirmation code, not yet usable) and registered.
type UserKind string

const (
	UserRegistering UserKind = "registering"
	UserRegistered  UserKind = "registered"
)

// User is polymorphic over the registration lifecycle. The transition from
// registering to registered is one-way and drops the code.
type User struct {
	UserID UserID
	Email  string
	Data   UserData
}

// UserData is a tagged variant. Code and CodeIssuedAt are only meaningful
// for the registering kind.
type UserData struct {
	Kind         UserKind
	FirstName    string
	LastName     string
	Code         string
	CodeIssuedAt time.Time
}

// BeginRegistration builds a registering user with a fresh confirmation code.
func BeginRegistration(id UserID, email, firstName, lastName string, now time.Time) (User, error) {
	if id.IsZero() {
		return User{}, fmt.Errorf("user id must be set")
	}
	for name, v := range map[string]string{"email": email, "first name": firstName, "last name": lastName} {
		if strings.TrimSpace(v) == "" {
			return User{}, fmt.Errorf("%s must be non-empty", name)
		}
	}
	code, err := NewConfirmationCode()
	if err != nil {
		return User{}, err
	}
	return User{
		UserID: id,
		Email:  strings.ToLower(strings.TrimSpace(email)),
		Data: UserData{
			Kind:         UserRegistering,
			FirstName:    firstName,
			LastName:     lastName,
			Code:         code,
			CodeIssuedAt: now.UTC(),
		},
	}, nil
}

// ConfirmRegistration applies the one-way transition to registered. A wrong
// or expired code is an invalid transition; confirming a user that is already
// registered succeeds without change.
func (u User) ConfirmRegistration(code string, now time.Time) (User, error) {
	if u.Data.Kind == UserRegistered {
		return u, nil
	}
	if u.Data.Code == "" || code != u.Data.Code {
		return User{}, fmt.Errorf("confirmation code mismatch: %w", ErrInvalidTransition)
	}
	if now.UTC().Sub(u.Data.CodeIssuedAt) > ConfirmationCodeTTL {
		return User{}, fmt.Errorf("confirmation code expired: %w", ErrInvalidTransition)
	}
	next := u
	next.Data = UserData{
		Kind:      UserRegistered,
		FirstName: u.Data.FirstName,
		LastName:  u.Data.LastName,
	}
	return next, nil
}

// NewConfirmationCode returns a random six digit code.
func NewConfirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
