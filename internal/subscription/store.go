package subscription

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by the Find methods when no user matches.
var ErrNotFound = errors.New("subscription not found")

// Store persists subscription documents. Get returns a fresh default State for
// unknown users. Update is atomic per document: fn sees the current state and the
// result is written only when fn returns nil.
type Store interface {
	Get(ctx context.Context, userID string) (*State, error)
	Update(ctx context.Context, userID string, fn func(*State) error) (*State, error)
	FindByStripeSubscription(ctx context.Context, subscriptionID string) (*State, error)
	FindByStripeCustomer(ctx context.Context, customerID string) (*State, error)
}

// MemoryStore keeps documents in process. Used in development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.states[userID]; ok {
		return s.clone(), nil
	}
	return NewState(userID), nil
}

func (m *MemoryStore) Update(_ context.Context, userID string, fn func(*State) error) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := NewState(userID)
	if s, ok := m.states[userID]; ok {
		working = s.clone()
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	working.UserID = userID
	working.UpdatedAt = time.Now().UTC()
	m.states[userID] = working
	return working.clone(), nil
}

func (m *MemoryStore) FindByStripeSubscription(_ context.Context, subscriptionID string) (*State, error) {
	return m.find(func(s *State) bool { return subscriptionID != "" && s.StripeSubscriptionID == subscriptionID })
}

func (m *MemoryStore) FindByStripeCustomer(_ context.Context, customerID string) (*State, error) {
	return m.find(func(s *State) bool { return customerID != "" && s.StripeCustomerID == customerID })
}

func (m *MemoryStore) find(match func(*State) bool) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.states {
		if match(s) {
			return s.clone(), nil
		}
	}
	return nil, ErrNotFound
}
