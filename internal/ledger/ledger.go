// Package ledger implements the atomic credit operations on API keys.
//
// Every balance check and the mutation that depends on it happen inside a
// single KeyStore.Update call, so concurrent deductions against the same key
// are serialized and can never drive a balance below zero.
package ledger

import (
	"math"
	"time"

	"github.com/universal-ai/gateway/internal/models"
	"github.com/universal-ai/gateway/internal/storage"
)

// Ledger deducts and credits API key balances
type Ledger struct {
	store *storage.KeyStore
	now   func() time.Time
}

// New creates a ledger over store
func New(store *storage.KeyStore) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
	}
}

// TryDeduct subtracts cost from the key's balance and counts one use.
// It returns models.ErrKeyNotFound for an unknown key and an
// *models.InsufficientCreditsError, with nothing mutated, when the balance
// is below cost.
func (l *Ledger) TryDeduct(key string, cost int64) (*models.APIKey, error) {
	if cost <= 0 {
		return nil, models.ErrInvalidAmount
	}

	return l.store.Update(key, func(k *models.APIKey) error {
		if k.Credits < cost {
			return &models.InsufficientCreditsError{Balance: k.Credits, Cost: cost}
		}
		k.Deduct(cost, l.now())
		return nil
	})
}

// Credit adds amount to the key's balance. Usage counters are untouched.
func (l *Ledger) Credit(key string, amount int64) (*models.APIKey, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidAmount
	}

	return l.store.Update(key, func(k *models.APIKey) error {
		if k.Credits > math.MaxInt64-amount {
			return models.ErrInvalidAmount
		}
		k.Credits += amount
		return nil
	})
}

// Balance returns the current credits of key
func (l *Ledger) Balance(key string) (int64, error) {
	k, err := l.store.Get(key)
	if err != nil {
		return 0, err
	}
	return k.Credits, nil
}
