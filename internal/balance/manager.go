// Package balance caches the venue account balance between refreshes.
package balance

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/retry"
	"trading-loop/pkg/venue"
)

// Balance is the cached account balance.
type Balance struct {
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	SyncedAt time.Time `json:"synced_at"`
}

// Manager keeps the last balance reported by the venue.
type Manager struct {
	client venue.Client
	caller *retry.Caller

	mu     sync.RWMutex
	cached Balance
}

// NewManager creates a balance manager; the cache is empty until the first Sync.
func NewManager(client venue.Client, caller *retry.Caller) *Manager {
	return &Manager{client: client, caller: caller}
}

// Sync fetches the latest balance. On failure the previous value is kept.
func (m *Manager) Sync(ctx context.Context) (Balance, error) {
	b, err := retry.Do(ctx, m.caller, "balance", func(ctx context.Context) (*venue.Balance, error) {
		return m.client.Balance(ctx)
	})
	if err != nil {
		log.WithError(err).Warn("⚠️ Balance refresh failed, keeping cached value")
		return m.Get(), err
	}

	m.mu.Lock()
	prev := m.cached.Amount
	m.cached = Balance{Amount: b.Amount, Currency: b.Currency, SyncedAt: time.Now()}
	current := m.cached
	m.mu.Unlock()

	if prev != b.Amount {
		log.WithFields(log.Fields{"balance": b.Amount, "currency": b.Currency}).Info("💰 Balance synced")
	}
	return current, nil
}

// Get returns the cached balance.
func (m *Manager) Get() Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cached
}

// Available is the cached amount.
func (m *Manager) Available() float64 {
	return m.Get().Amount
}

// SetInitialBalance seeds the cache, for example from the authorize response.
func (m *Manager) SetInitialBalance(amount float64, currency string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = Balance{Amount: amount, Currency: currency, SyncedAt: time.Now()}
	log.WithField("balance", amount).Info("💰 Initial balance set")
}
