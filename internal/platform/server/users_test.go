package server

import (
	"errors"
	"testing"
	"time"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
	"github.com/fenlandpay/paygate-go/internal/platform/store"
)

type usersFixture struct {
	clock *serverClock
	store *store.MemoryStore
	svc   *UsersService
}

func newUsersFixture(t *testing.T) *usersFixture {
	t.Helper()
	f := &usersFixture{
		clock: &serverClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
		store: store.NewMemoryStore(),
	}
	f.svc = NewUsersService(f.clock, f.store, nil)
	f.svc.Logf = t.Logf
	return f
}

func TestRegisterPersistsRegisteringUser(t *testing.T) {
	f := newUsersFixture(t)

	user, err := f.svc.Register(t.Context(), "Carol@Example.com", "Carol", "Chen")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "carol@example.com" {
		t.Fatalf("email = %q, want lowercased", user.Email)
	}
	if user.Data.Code == "" {
		t.Fatalf("no confirmation code issued")
	}

	got, version, err := f.store.GetUser(t.Context(), user.UserID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 0 || got.Data.Kind != domain.UserRegistering {
		t.Fatalf("persisted version=%d kind=%s", version, got.Data.Kind)
	}
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	f := newUsersFixture(t)
	_, err := f.svc.Register(t.Context(), "not an email", "Carol", "Chen")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestRegisterDuplicateEmailReturnsExistingUser(t *testing.T) {
	f := newUsersFixture(t)

	first, err := f.svc.Register(t.Context(), "carol@example.com", "Carol", "Chen")
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	second, err := f.svc.Register(t.Context(), "CAROL@example.com", "Carol", "Chen")
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if second.UserID != first.UserID {
		t.Fatalf("second register minted a new user: %s vs %s", second.UserID, first.UserID)
	}

	users, err := f.svc.ListUsers(t.Context(), 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("user count = %d, want 1", len(users))
	}
}

func TestConfirmRegistration(t *testing.T) {
	f := newUsersFixture(t)
	user, err := f.svc.Register(t.Context(), "carol@example.com", "Carol", "Chen")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	confirmed, err := f.svc.Confirm(t.Context(), user.UserID, user.Data.Code)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Data.Kind != domain.UserRegistered {
		t.Fatalf("kind = %s, want registered", confirmed.Data.Kind)
	}

	got, version, err := f.store.GetUser(t.Context(), user.UserID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 1 || got.Data.Kind != domain.UserRegistered {
		t.Fatalf("persisted version=%d kind=%s", version, got.Data.Kind)
	}
}

func TestConfirmIsIdempotentOnceRegistered(t *testing.T) {
	f := newUsersFixture(t)
	user, err := f.svc.Register(t.Context(), "carol@example.com", "Carol", "Chen")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.svc.Confirm(t.Context(), user.UserID, user.Data.Code); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	// any code is accepted once registered, and no write happens
	again, err := f.svc.Confirm(t.Context(), user.UserID, "000000")
	if err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
	if again.Data.Kind != domain.UserRegistered {
		t.Fatalf("kind = %s", again.Data.Kind)
	}
	_, version, err := f.store.GetUser(t.Context(), user.UserID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d after re-confirm, want 1", version)
	}
}

func TestConfirmWrongCode(t *testing.T) {
	f := newUsersFixture(t)
	user, err := f.svc.Register(t.Context(), "carol@example.com", "Carol", "Chen")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	wrong := "000000"
	if wrong == user.Data.Code {
		wrong = "000001"
	}
	_, err = f.svc.Confirm(t.Context(), user.UserID, wrong)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	got, _, err := f.store.GetUser(t.Context(), user.UserID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Data.Kind != domain.UserRegistering {
		t.Fatalf("wrong code advanced the user to %s", got.Data.Kind)
	}
}

func TestConfirmExpiredCode(t *testing.T) {
	f := newUsersFixture(t)
	user, err := f.svc.Register(t.Context(), "carol@example.com", "Carol", "Chen")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	f.clock.now = f.clock.now.Add(domain.ConfirmationCodeTTL + time.Minute)
	_, err = f.svc.Confirm(t.Context(), user.UserID, user.Data.Code)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestConfirmUnknownUser(t *testing.T) {
	f := newUsersFixture(t)
	_, err := f.svc.Confirm(t.Context(), domain.NewUserID(), "123456")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
