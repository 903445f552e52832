package repository

import (
	"context"
	"sync"
	"time"

	"pointledger/internal/model"
)

// MemoryStore is an in-process Store. Suitable for tests and single-instance
// development; state is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.UsageAccount
	customers map[string]string // stripe customer id -> user id
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.UsageAccount),
		customers: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, acct model.UsageAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.UserID]; ok {
		return ErrAccountExists
	}
	if acct.StripeCustomerID != "" {
		if _, taken := s.customers[acct.StripeCustomerID]; taken {
			return ErrAccountExists
		}
		s.customers[acct.StripeCustomerID] = acct.UserID
	}
	a := acct
	s.accounts[acct.UserID] = &a
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (model.UsageAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return model.UsageAccount{}, ErrAccountNotFound
	}
	return *a, nil
}

func (s *MemoryStore) FindByStripeCustomer(ctx context.Context, customerID string) (model.UsageAccount, error) {
	s.mu.RLock()
	userID, ok := s.customers[customerID]
	s.mu.RUnlock()
	if !ok {
		return model.UsageAccount{}, ErrAccountNotFound
	}
	return s.Get(ctx, userID)
}

func (s *MemoryStore) LinkStripeCustomer(_ context.Context, userID, customerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	if owner, taken := s.customers[customerID]; taken && owner != userID {
		return ErrAccountExists
	}
	if a.StripeCustomerID != "" {
		delete(s.customers, a.StripeCustomerID)
	}
	a.StripeCustomerID = customerID
	a.UpdatedAt = now
	s.customers[customerID] = userID
	return nil
}

func (s *MemoryStore) Debit(_ context.Context, userID string, amount int64, now time.Time) (model.UsageAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return model.UsageAccount{}, ErrAccountNotFound
	}
	if a.Balance < amount {
		return *a, ErrInsufficientBalance
	}
	a.Balance -= amount
	a.SpentThisCycle += amount
	a.UpdatedAt = now
	return *a, nil
}

func (s *MemoryStore) Replenish(_ context.Context, userID string, g Grant) (model.UsageAccount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return model.UsageAccount{}, false, ErrAccountNotFound
	}
	if a.LastReplenishedAt.After(g.Due) {
		return *a, false, nil
	}
	a.Balance = g.Apply(a.Balance)
	a.SpentThisCycle = 0
	a.LastReplenishedAt = g.Now
	a.UpdatedAt = g.Now
	return *a, true, nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, g Grant) (model.UsageAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return model.UsageAccount{}, ErrAccountNotFound
	}
	a.Balance = g.Apply(a.Balance)
	if g.Now.After(a.LastReplenishedAt) {
		a.LastReplenishedAt = g.Now
	}
	a.UpdatedAt = g.Now
	return *a, nil
}
