package ledger

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/universal-ai/gateway/internal/models"
	"github.com/universal-ai/gateway/internal/storage"
)

func setupLedger(t *testing.T, credits int64) (*Ledger, *storage.KeyStore) {
	t.Helper()
	store := storage.NewKeyStore()
	require.NoError(t, store.Create(&models.APIKey{
		Key:       "api_test",
		Credits:   credits,
		CreatedAt: time.Now().UTC(),
	}))
	return New(store), store
}

func TestTryDeduct_Scenario(t *testing.T) {
	l, _ := setupLedger(t, 5)

	k, err := l.TryDeduct("api_test", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), k.Credits)
	assert.Equal(t, int64(1), k.UsageCount)
	assert.NotNil(t, k.LastUsed)

	_, err = l.TryDeduct("api_test", 3)
	assert.ErrorIs(t, err, models.ErrInsufficientCredits)
	var ice *models.InsufficientCreditsError
	require.True(t, errors.As(err, &ice))
	assert.Equal(t, int64(2), ice.Balance)
	assert.Equal(t, int64(3), ice.Cost)

	balance, err := l.Balance("api_test")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)

	k, err = l.TryDeduct("api_test", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), k.Credits)
	assert.Equal(t, int64(2), k.UsageCount)
}

func TestTryDeduct_ExactBalance(t *testing.T) {
	l, _ := setupLedger(t, 2)

	k, err := l.TryDeduct("api_test", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), k.Credits)
}

func TestTryDeduct_InsufficientLeavesRecordUntouched(t *testing.T) {
	l, store := setupLedger(t, 1)
	before, _ := store.Get("api_test")

	_, err := l.TryDeduct("api_test", 5)
	assert.ErrorIs(t, err, models.ErrInsufficientCredits)

	after, _ := store.Get("api_test")
	assert.Equal(t, before, after)
}

func TestTryDeduct_UnknownKey(t *testing.T) {
	l, _ := setupLedger(t, 1)

	_, err := l.TryDeduct("api_missing", 1)
	assert.ErrorIs(t, err, models.ErrKeyNotFound)
}

func TestTryDeduct_InvalidCost(t *testing.T) {
	l, store := setupLedger(t, 5)

	for _, cost := range []int64{0, -1} {
		_, err := l.TryDeduct("api_test", cost)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	}

	k, _ := store.Get("api_test")
	assert.Equal(t, int64(5), k.Credits)
	assert.Equal(t, int64(0), k.UsageCount)
}

func TestTryDeduct_ConcurrentExhaustion(t *testing.T) {
	const (
		balance  = 20
		requests = 100
	)
	l, store := setupLedger(t, balance)

	var ok, insufficient int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.TryDeduct("api_test", 1)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, models.ErrInsufficientCredits):
				atomic.AddInt64(&insufficient, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(balance), ok)
	assert.Equal(t, int64(requests-balance), insufficient)

	k, _ := store.Get("api_test")
	assert.Equal(t, int64(0), k.Credits)
	assert.Equal(t, int64(balance), k.UsageCount)
}

func TestLedger_RandomInterleavingsNeverGoNegative(t *testing.T) {
	l, store := setupLedger(t, 50)
	rng := rand.New(rand.NewSource(42))

	type op struct {
		credit bool
		amount int64
	}
	ops := make([]op, 400)
	for i := range ops {
		ops[i] = op{credit: rng.Intn(4) == 0, amount: int64(rng.Intn(7) + 1)}
	}

	var deducted, credited int64
	var wg sync.WaitGroup
	for _, o := range ops {
		wg.Add(1)
		go func(o op) {
			defer wg.Done()
			if o.credit {
				_, err := l.Credit("api_test", o.amount)
				if assert.NoError(t, err) {
					atomic.AddInt64(&credited, o.amount)
				}
				return
			}
			k, err := l.TryDeduct("api_test", o.amount)
			if err == nil {
				assert.GreaterOrEqual(t, k.Credits, int64(0))
				atomic.AddInt64(&deducted, o.amount)
				return
			}
			assert.ErrorIs(t, err, models.ErrInsufficientCredits)
		}(o)
	}
	wg.Wait()

	k, _ := store.Get("api_test")
	assert.GreaterOrEqual(t, k.Credits, int64(0))
	assert.Equal(t, 50+credited-deducted, k.Credits)
}

func TestUsageCountIsMonotonic(t *testing.T) {
	l, store := setupLedger(t, 10)

	var last int64
	for i := 0; i < 15; i++ {
		if i%4 == 0 {
			_, err := l.Credit("api_test", 1)
			require.NoError(t, err)
		} else {
			_, _ = l.TryDeduct("api_test", 1)
		}
		k, _ := store.Get("api_test")
		assert.GreaterOrEqual(t, k.UsageCount, last)
		last = k.UsageCount
	}
}

func TestCredit(t *testing.T) {
	l, _ := setupLedger(t, 2)

	k, err := l.Credit("api_test", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(12), k.Credits)
	assert.Equal(t, int64(0), k.UsageCount)
	assert.Nil(t, k.LastUsed)
}

func TestCredit_Invalid(t *testing.T) {
	l, _ := setupLedger(t, 2)

	_, err := l.Credit("api_test", 0)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = l.Credit("api_test", -5)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = l.Credit("api_test", math.MaxInt64)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = l.Credit("api_missing", 1)
	assert.ErrorIs(t, err, models.ErrKeyNotFound)

	balance, _ := l.Balance("api_test")
	assert.Equal(t, int64(2), balance)
}
