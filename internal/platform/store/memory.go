package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

// MemoryStore is an in-process implementation with the same version contract
// as PostgresStore. It backs tests and database-less runs. Aggregates are
// held as their encoded payload so reads never alias a caller's value and the
// schema envelope is exercised on every round trip.
type MemoryStore struct {
	mu        sync.Mutex
	payments  map[domain.PaymentID]memoryRow
	users     map[domain.UserID]memoryRow
	emails    map[string]domain.UserID
	payoutIdx map[domain.PayoutID]domain.PaymentID
	refundIdx map[domain.RefundID]domain.PaymentID
}

type memoryRow struct {
	version   int64
	payload   []byte
	email     string
	createdAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:  make(map[domain.PaymentID]memoryRow),
		users:     make(map[domain.UserID]memoryRow),
		emails:    make(map[string]domain.UserID),
		payoutIdx: make(map[domain.PayoutID]domain.PaymentID),
		refundIdx: make(map[domain.RefundID]domain.PaymentID),
	}
}

func (s *MemoryStore) UpsertPayment(_ context.Context, p domain.Payment, expectedNextVersion int64) error {
	payload, err := encodePayment(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.payments[p.PaymentID]
	switch {
	case expectedNextVersion == 0:
		if exists {
			return ErrConcurrentUpdate
		}
		row = memoryRow{version: 0, payload: payload, createdAt: time.Now().UTC()}
	case !exists || row.version != expectedNextVersion-1:
		return ErrConcurrentUpdate
	default:
		row.version = expectedNextVersion
		row.payload = payload
	}
	s.payments[p.PaymentID] = row

	if p.Payout != nil && p.Payout.Kind == domain.LegCreated {
		s.payoutIdx[p.Payout.PayoutID] = p.PaymentID
	}
	if p.Refund != nil && p.Refund.Kind == domain.LegCreated {
		s.refundIdx[p.Refund.RefundID] = p.PaymentID
	}
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, id domain.PaymentID) (domain.Payment, int64, error) {
	s.mu.Lock()
	row, ok := s.payments[id]
	s.mu.Unlock()
	if !ok {
		return domain.Payment{}, 0, ErrNotFound
	}
	payment, err := decodePayment(id, row.payload)
	if err != nil {
		return domain.Payment{}, 0, err
	}
	return payment, row.version, nil
}

func (s *MemoryStore) GetPaymentByPayoutID(ctx context.Context, id domain.PayoutID) (domain.Payment, int64, error) {
	s.mu.Lock()
	paymentID, ok := s.payoutIdx[id]
	s.mu.Unlock()
	if !ok {
		return domain.Payment{}, 0, ErrNotFound
	}
	return s.GetPayment(ctx, paymentID)
}

func (s *MemoryStore) GetPaymentByRefundID(ctx context.Context, id domain.RefundID) (domain.Payment, int64, error) {
	s.mu.Lock()
	paymentID, ok := s.refundIdx[id]
	s.mu.Unlock()
	if !ok {
		return domain.Payment{}, 0, ErrNotFound
	}
	return s.GetPayment(ctx, paymentID)
}

func (s *MemoryStore) ListPayments(_ context.Context, limit, offset int) ([]VersionedPayment, error) {
	limit, offset = clampPage(limit, offset)

	s.mu.Lock()
	type entry struct {
		id  domain.PaymentID
		row memoryRow
	}
	entries := make([]entry, 0, len(s.payments))
	for id, row := range s.payments {
		entries = append(entries, entry{id: id, row: row})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].row.createdAt.After(entries[j].row.createdAt) })
	if offset >= len(entries) {
		return []VersionedPayment{}, nil
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]VersionedPayment, 0, len(entries))
	for _, e := range entries {
		payment, err := decodePayment(e.id, e.row.payload)
		if err != nil {
			return nil, err
		}
		out = append(out, VersionedPayment{Payment: payment, Version: e.row.version})
	}
	return out, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, u domain.User, expectedNextVersion int64) error {
	payload, err := encodeUser(u)
	if err != nil {
		return err
	}
	email := strings.ToLower(strings.TrimSpace(u.Email))

	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.users[u.UserID]
	switch {
	case expectedNextVersion == 0:
		if exists {
			return ErrConcurrentUpdate
		}
		if _, taken := s.emails[email]; taken {
			return ErrDuplicateEmail
		}
		row = memoryRow{version: 0, payload: payload, email: email, createdAt: time.Now().UTC()}
	case !exists || row.version != expectedNextVersion-1:
		return ErrConcurrentUpdate
	default:
		row.version = expectedNextVersion
		row.payload = payload
	}
	s.users[u.UserID] = row
	s.emails[email] = u.UserID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id domain.UserID) (domain.User, int64, error) {
	s.mu.Lock()
	row, ok := s.users[id]
	s.mu.Unlock()
	if !ok {
		return domain.User{}, 0, ErrNotFound
	}
	user, err := decodeUser(id, row.email, row.payload)
	if err != nil {
		return domain.User{}, 0, err
	}
	return user, row.version, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (domain.User, int64, error) {
	s.mu.Lock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	s.mu.Unlock()
	if !ok {
		return domain.User{}, 0, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *MemoryStore) ListUsers(_ context.Context, limit, offset int) ([]VersionedUser, error) {
	limit, offset = clampPage(limit, offset)

	s.mu.Lock()
	type entry struct {
		id  domain.UserID
		row memoryRow
	}
	entries := make([]entry, 0, len(s.users))
	for id, row := range s.users {
		entries = append(entries, entry{id: id, row: row})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].row.createdAt.After(entries[j].row.createdAt) })
	if offset >= len(entries) {
		return []VersionedUser{}, nil
	}
	entries = entries[offset:]
	if len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]VersionedUser, 0, len(entries))
	for _, e := range entries {
		user, err := decodeUser(e.id, e.row.email, e.row.payload)
		if err != nil {
			return nil, err
		}
		out = append(out, VersionedUser{User: user, Version: e.row.version})
	}
	return out, nil
}

var (
	_ PaymentStore = (*MemoryStore)(nil)
	_ UserStore    = (*MemoryStore)(nil)
	_ PaymentStore = (*PostgresStore)(nil)
	_ UserStore    = (*PostgresStore)(nil)
)
