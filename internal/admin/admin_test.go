package admin

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/universal-ai/gateway/internal/ledger"
	"github.com/universal-ai/gateway/internal/models"
	"github.com/universal-ai/gateway/internal/storage"
	"github.com/universal-ai/gateway/internal/usage"
	"go.uber.org/zap"
)

var testCred = Credential{Username: "admin", Password: "s3cret"}

func setupController(t *testing.T) (*Controller, *storage.KeyStore, usage.Log) {
	t.Helper()
	store := storage.NewKeyStore()
	u := usage.NewMemoryLog(100, 0)
	c := NewController(store, ledger.New(store), u, Options{
		Username:          testCred.Username,
		Password:          testCred.Password,
		DefaultCredits:    30,
		DefaultDailyLimit: 30,
		KeyLifetime:       365 * 24 * time.Hour,
		KeyPrefix:         "api_",
	}, zap.NewNop())
	return c, store, u
}

func login(t *testing.T, c *Controller) *Session {
	t.Helper()
	s, err := c.Authenticate(testCred)
	require.NoError(t, err)
	return s
}

func TestAuthenticate(t *testing.T) {
	c, _, _ := setupController(t)

	tests := []struct {
		name string
		cred Credential
		ok   bool
	}{
		{"valid", testCred, true},
		{"wrong password", Credential{Username: "admin", Password: "nope"}, false},
		{"wrong username", Credential{Username: "root", Password: "s3cret"}, false},
		{"empty", Credential{}, false},
		{"swapped", Credential{Username: "s3cret", Password: "admin"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := c.Authenticate(tt.cred)
			if tt.ok {
				require.NoError(t, err)
				assert.NotNil(t, s)
				return
			}
			assert.ErrorIs(t, err, models.ErrUnauthorized)
			assert.Nil(t, s)
		})
	}
}

func TestAuthenticate_UnconfiguredRejectsEverything(t *testing.T) {
	store := storage.NewKeyStore()
	c := NewController(store, ledger.New(store), usage.NewMemoryLog(10, 0), Options{}, zap.NewNop())

	_, err := c.Authenticate(Credential{})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestFailedAuthenticationLeavesStoreUnchanged(t *testing.T) {
	c, store, _ := setupController(t)
	s := login(t, c)
	k, err := s.GenerateKey("seed", nil, nil)
	require.NoError(t, err)
	before := store.List()
	version := store.Version()

	for i := 0; i < 5; i++ {
		_, err := c.Authenticate(Credential{Username: "admin", Password: fmt.Sprintf("guess-%d", i)})
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	}

	assert.Equal(t, before, store.List())
	assert.Equal(t, version, store.Version())
	got, _ := store.Get(k.Key)
	assert.Equal(t, int64(30), got.Credits)
}

func TestGenerateKey(t *testing.T) {
	c, store, _ := setupController(t)
	s := login(t, c)

	credits := int64(100)
	k, err := s.GenerateKey("Premium", &credits, nil)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^api_[A-Za-z0-9_-]{32}$`), k.Key)
	assert.Equal(t, "Premium", k.Name)
	assert.Equal(t, int64(100), k.Credits)
	assert.Equal(t, int64(0), k.UsageCount)
	assert.Nil(t, k.LastUsed)

	stored, err := store.Get(k.Key)
	require.NoError(t, err)
	assert.Equal(t, k, stored)
}

func TestGenerateKey_Defaults(t *testing.T) {
	c, _, _ := setupController(t)
	s := login(t, c)

	k, err := s.GenerateKey("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "User Key", k.Name)
	assert.Equal(t, int64(30), k.Credits)

	zero := int64(0)
	k, err = s.GenerateKey("free", &zero, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), k.Credits)
}

func TestGenerateKey_NegativeCredits(t *testing.T) {
	c, store, _ := setupController(t)
	s := login(t, c)

	neg := int64(-1)
	_, err := s.GenerateKey("bad", &neg, nil)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
	assert.Equal(t, 0, store.Len())
}

func TestGenerateKey_RetriesOnCollision(t *testing.T) {
	c, store, _ := setupController(t)
	store.Put(&models.APIKey{Key: "api_taken", Credits: 1})

	values := []string{"api_taken", "api_taken", "api_fresh"}
	c.newKey = func(prefix string) (string, error) {
		v := values[0]
		values = values[1:]
		return v, nil
	}

	k, err := login(t, c).GenerateKey("x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "api_fresh", k.Key)

	taken, _ := store.Get("api_taken")
	assert.Equal(t, int64(1), taken.Credits)
}

func TestGenerateKey_GivesUpAfterRepeatedCollisions(t *testing.T) {
	c, store, _ := setupController(t)
	store.Put(&models.APIKey{Key: "api_taken"})
	c.newKey = func(string) (string, error) { return "api_taken", nil }

	_, err := login(t, c).GenerateKey("x", nil, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestGenerateKey_DailyLimitAndExpiry(t *testing.T) {
	c, _, _ := setupController(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	s := login(t, c)

	k, err := s.GenerateKey("default", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), k.DailyLimit)
	require.NotNil(t, k.ExpiresAt)
	assert.Equal(t, now.Add(365*24*time.Hour), *k.ExpiresAt)

	limit := int64(100)
	k, err = s.GenerateKey("custom", nil, &limit)
	require.NoError(t, err)
	assert.Equal(t, int64(100), k.DailyLimit)

	neg := int64(-1)
	_, err = s.GenerateKey("bad", nil, &neg)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestGenerateKey_NoLifetimeMeansNoExpiry(t *testing.T) {
	c, _, _ := setupController(t)
	c.keyLifetime = 0

	k, err := login(t, c).GenerateKey("forever", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, k.ExpiresAt)
}

func TestSetDailyLimit(t *testing.T) {
	c, store, _ := setupController(t)
	s := login(t, c)
	k, _ := s.GenerateKey("a", nil, nil)

	updated, err := s.SetDailyLimit(k.Key, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), updated.DailyLimit)
	assert.Equal(t, k.Credits, updated.Credits)

	version := store.Version()
	_, err = s.SetDailyLimit(k.Key, -1)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
	_, err = s.SetDailyLimit("api_missing", 5)
	assert.ErrorIs(t, err, models.ErrKeyNotFound)
	assert.Equal(t, version, store.Version())
}

func TestResetDailyUsage(t *testing.T) {
	c, _, u := setupController(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	s := login(t, c)
	ctx := context.Background()

	k, _ := s.GenerateKey("a", nil, nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, u.Record(ctx, models.UsageEntry{Key: k.Key, Endpoint: "video", CreditsUsed: 2, CreatedAt: now}))
	}

	reports, err := s.KeyReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, int64(4), reports[0].DailyUsed)
	assert.Equal(t, int64(26), reports[0].RemainingToday)
	assert.Equal(t, int64(8), reports[0].CreditsUsed)

	updated, err := s.ResetDailyUsage(ctx, k.Key)
	require.NoError(t, err)
	require.NotNil(t, updated.DailyReset)
	assert.Equal(t, "2024-05-01", updated.DailyReset.Day)

	require.NoError(t, u.Record(ctx, models.UsageEntry{Key: k.Key, Endpoint: "video", CreditsUsed: 2, CreatedAt: now}))
	reports, err = s.KeyReports(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reports[0].DailyUsed)
	assert.Equal(t, int64(29), reports[0].RemainingToday)
	assert.Equal(t, int64(10), reports[0].CreditsUsed, "a reset keeps lifetime spend")

	_, err = s.ResetDailyUsage(ctx, "api_missing")
	assert.ErrorIs(t, err, models.ErrKeyNotFound)
}

func TestGeneratedKeysAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		k, err := GenerateKey("api_")
		require.NoError(t, err)
		assert.False(t, seen[k])
		seen[k] = true
	}
}

func TestListKeys(t *testing.T) {
	c, _, _ := setupController(t)
	s := login(t, c)

	assert.Empty(t, s.ListKeys())

	a, _ := s.GenerateKey("a", nil, nil)
	b, _ := s.GenerateKey("b", nil, nil)

	keys := s.ListKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, a.Key, keys[0].Key)
	assert.Equal(t, b.Key, keys[1].Key)
}

func TestAddCredits(t *testing.T) {
	c, _, _ := setupController(t)
	s := login(t, c)
	k, _ := s.GenerateKey("a", nil, nil)

	updated, err := s.AddCredits(k.Key, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(40), updated.Credits)
	assert.Equal(t, int64(0), updated.UsageCount)

	_, err = s.AddCredits(k.Key, 0)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = s.AddCredits("api_missing", 5)
	assert.ErrorIs(t, err, models.ErrKeyNotFound)
}

func TestStats(t *testing.T) {
	c, _, u := setupController(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	s := login(t, c)
	ctx := context.Background()

	a, _ := s.GenerateKey("a", nil, nil)
	b, _ := s.GenerateKey("b", nil, nil)

	for i := 0; i < 3; i++ {
		_, err := c.ledger.TryDeduct(a.Key, 2)
		require.NoError(t, err)
		require.NoError(t, u.Record(ctx, models.UsageEntry{Key: a.Key, Endpoint: "video", CreditsUsed: 2, CreatedAt: now}))
	}
	_, err := c.ledger.TryDeduct(b.Key, 5)
	require.NoError(t, err)
	require.NoError(t, u.Record(ctx, models.UsageEntry{Key: b.Key, Endpoint: "num", CreditsUsed: 5, CreatedAt: now}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalKeys)
	assert.Equal(t, int64(4), st.TotalUsage)
	assert.Equal(t, int64(60-11), st.OutstandingCredits)
	assert.Equal(t, int64(11), st.CreditsUsed)
	assert.Equal(t, int64(4), st.RequestsToday)
	require.Len(t, st.TopKeysToday, 2)
	assert.Equal(t, models.MaskKey(a.Key), st.TopKeysToday[0].Key)
	assert.Equal(t, int64(3), st.TopKeysToday[0].Requests)
}

func TestEnsureBootstrapKey_GeneratesWhenEmpty(t *testing.T) {
	c, store, _ := setupController(t)

	k, created, err := c.EnsureBootstrapKey("", 50)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Default Key", k.Name)
	assert.Equal(t, int64(50), k.Credits)
	assert.Equal(t, 1, store.Len())

	// a populated store gets no second default key
	_, created, err = c.EnsureBootstrapKey("", 50)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, store.Len())
}

func TestEnsureBootstrapKey_ConfiguredKey(t *testing.T) {
	c, store, _ := setupController(t)

	k, created, err := c.EnsureBootstrapKey("api_fixed", 50)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "api_fixed", k.Key)

	_, err = c.ledger.TryDeduct("api_fixed", 5)
	require.NoError(t, err)

	// restart keeps the persisted balance
	k, created, err = c.EnsureBootstrapKey("api_fixed", 50)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(45), k.Credits)
	assert.Equal(t, 1, store.Len())
}

func TestEnsureBootstrapKey_NegativeCredits(t *testing.T) {
	c, store, _ := setupController(t)

	_, _, err := c.EnsureBootstrapKey("", -1)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
	assert.Equal(t, 0, store.Len())
}

func TestScenario_MintDeductTopUp(t *testing.T) {
	c, _, _ := setupController(t)
	s := login(t, c)

	five := int64(5)
	k, err := s.GenerateKey("scenario", &five, nil)
	require.NoError(t, err)

	got, err := c.ledger.TryDeduct(k.Key, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Credits)
	assert.Equal(t, int64(1), got.UsageCount)

	_, err = c.ledger.TryDeduct(k.Key, 5)
	assert.ErrorIs(t, err, models.ErrInsufficientCredits)
	balance, _ := c.ledger.Balance(k.Key)
	assert.Equal(t, int64(3), balance)

	got, err = s.AddCredits(k.Key, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(13), got.Credits)
	assert.Equal(t, int64(1), got.UsageCount)

	got, err = c.ledger.TryDeduct(k.Key, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Credits)
	assert.Equal(t, int64(2), got.UsageCount)
}
