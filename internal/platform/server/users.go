package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"

	"github.com/fenlandpay/paygate-go/internal/platform/clock"
	"github.com/fenlandpay/paygate-go/internal/platform/domain"
	"github.com/fenlandpay/paygate-go/internal/platform/store"
)

// UsersService runs the two-step user registration against the versioned
// store. Confirmation codes would normally go out by mail; here they are
// logged, matching the delivery stub the deployment expects to replace.
type UsersService struct {
	Clock   clock.Clock
	Store   store.UserStore
	Metrics *Metrics
	Logf    func(format string, args ...any)
}

func NewUsersService(clk clock.Clock, st store.UserStore, metrics *Metrics) *UsersService {
	return &UsersService{Clock: clk, Store: st, Metrics: metrics, Logf: log.Printf}
}

// Register creates a registering user and persists it at version 0. If the
// email is already taken the existing user is returned unchanged.
func (s *UsersService) Register(ctx context.Context, email, firstName, lastName string) (domain.User, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, validationf(fmt.Sprintf("invalid email %q", email))
	}
	ctx = context.WithoutCancel(ctx)

	user, err := domain.BeginRegistration(domain.NewUserID(), email, firstName, lastName, s.Clock.Now())
	if err != nil {
		return domain.User{}, validationf(err.Error())
	}
	err = s.Store.UpsertUser(ctx, user, 0)
	if errors.Is(err, store.ErrDuplicateEmail) {
		// registration is re-enterable: hand back the existing user
		existing, _, getErr := s.Store.GetUserByEmail(ctx, user.Email)
		if getErr != nil {
			return domain.User{}, fmt.Errorf("lookup user by email: %w", getErr)
		}
		return existing, nil
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("persist user %s: %w", user.UserID, err)
	}
	s.logf("user registration started user_id=%s code=%s", user.UserID, user.Data.Code)
	return user, nil
}

// Confirm applies the confirmation code. Re-confirming an already registered
// user is a no-op success; a wrong or expired code maps to an invalid
// transition.
func (s *UsersService) Confirm(ctx context.Context, id domain.UserID, code string) (domain.User, error) {
	ctx = context.WithoutCancel(ctx)
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		user, version, err := s.Store.GetUser(ctx, id)
		if err != nil {
			return domain.User{}, err
		}
		confirmed, err := user.ConfirmRegistration(code, s.Clock.Now())
		if err != nil {
			return domain.User{}, err
		}
		if confirmed.Data.Kind == user.Data.Kind {
			// already registered, nothing to write
			return confirmed, nil
		}
		err = s.Store.UpsertUser(ctx, confirmed, version+1)
		if errors.Is(err, store.ErrConcurrentUpdate) {
			s.Metrics.ObserveStoreConflict()
			continue
		}
		if err != nil {
			return domain.User{}, fmt.Errorf("persist user %s: %w", id, err)
		}
		s.logf("user registration confirmed user_id=%s", id)
		return confirmed, nil
	}
	return domain.User{}, fmt.Errorf("confirm user %s: %w", id, store.ErrConcurrentUpdate)
}

func (s *UsersService) GetUser(ctx context.Context, id domain.UserID) (domain.User, int64, error) {
	return s.Store.GetUser(ctx, id)
}

func (s *UsersService) ListUsers(ctx context.Context, limit, offset int) ([]store.VersionedUser, error) {
	return s.Store.ListUsers(ctx, limit, offset)
}

func (s *UsersService) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
