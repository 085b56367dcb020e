package domain

import (
	"errors"
	"testing"
	"time"
)

func testUser(t *testing.T) User {
	t.Helper()
	u, err := BeginRegistration(NewUserID(), "Carol@Example.com", "Carol", "Chapman", testNow)
	if err != nil {
		t.Fatalf("BeginRegistration: %v", err)
	}
	return u
}

func TestBeginRegistration(t *testing.T) {
	u := testUser(t)
	if u.Email != "carol@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.Data.Kind != UserRegistering {
		t.Fatalf("kind = %q, want registering", u.Data.Kind)
	}
	if len(u.Data.Code) != 6 {
		t.Fatalf("code = %q, want six digits", u.Data.Code)
	}
	if !u.Data.CodeIssuedAt.Equal(testNow) {
		t.Fatalf("code issued at = %v", u.Data.CodeIssuedAt)
	}
}

func TestBeginRegistrationValidation(t *testing.T) {
	if _, err := BeginRegistration(UserID{}, "x@y.com", "A", "B", testNow); err == nil {
		t.Fatalf("zero id accepted")
	}
	if _, err := BeginRegistration(NewUserID(), " ", "A", "B", testNow); err == nil {
		t.Fatalf("blank email accepted")
	}
	if _, err := BeginRegistration(NewUserID(), "x@y.com", "", "B", testNow); err == nil {
		t.Fatalf("blank first name accepted")
	}
}

func TestConfirmRegistration(t *testing.T) {
	u := testUser(t)
	confirmed, err := u.ConfirmRegistration(u.Data.Code, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Data.Kind != UserRegistered {
		t.Fatalf("kind = %q, want registered", confirmed.Data.Kind)
	}
	if confirmed.Data.Code != "" {
		t.Fatalf("code retained after confirmation")
	}
	if confirmed.Data.FirstName != "Carol" || confirmed.Data.LastName != "Chapman" {
		t.Fatalf("names lost: %+v", confirmed.Data)
	}

	// re-confirming is a no-op success, with any code
	again, err := confirmed.ConfirmRegistration("000000", testNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
	if again.Data.Kind != UserRegistered {
		t.Fatalf("re-confirm changed kind to %q", again.Data.Kind)
	}
}

func TestConfirmRegistrationWrongCode(t *testing.T) {
	u := testUser(t)
	wrong := "000000"
	if wrong == u.Data.Code {
		wrong = "000001"
	}
	if _, err := u.ConfirmRegistration(wrong, testNow.Add(time.Hour)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("wrong code err = %v, want ErrInvalidTransition", err)
	}
}

func TestConfirmRegistrationExpiredCode(t *testing.T) {
	u := testUser(t)
	late := testNow.Add(ConfirmationCodeTTL + time.Minute)
	if _, err := u.ConfirmRegistration(u.Data.Code, late); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expired code err = %v, want ErrInvalidTransition", err)
	}
	// just inside the window still works
	if _, err := u.ConfirmRegistration(u.Data.Code, testNow.Add(ConfirmationCodeTTL)); err != nil {
		t.Fatalf("confirm at ttl boundary: %v", err)
	}
}

func TestNewConfirmationCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		code, err := NewConfirmationCode()
		if err != nil {
			t.Fatalf("NewConfirmationCode: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("code %q is not six digits", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Fatalf("codes are not random")
	}
}
