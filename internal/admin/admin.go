package admin

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/universal-ai/gateway/internal/ledger"
	"github.com/universal-ai/gateway/internal/metrics"
	"github.com/universal-ai/gateway/internal/models"
	"github.com/universal-ai/gateway/internal/storage"
	"github.com/universal-ai/gateway/internal/usage"
	"go.uber.org/zap"
)

const mintAttempts = 5

// Credential is the admin identity presented with a request
type Credential struct {
	Username string
	Password string
}

// Options configures a Controller
type Options struct {
	Username          string
	Password          string
	DefaultCredits    int64
	DefaultDailyLimit int64
	KeyLifetime       time.Duration
	KeyPrefix         string
}

// Controller performs privileged key operations. The only way to reach
// them is through a Session returned by Authenticate.
type Controller struct {
	store  *storage.KeyStore
	ledger *ledger.Ledger
	usage  usage.Log
	logger *zap.Logger

	username       [sha256.Size]byte
	password       [sha256.Size]byte
	configured     bool
	defaultCredits int64
	dailyLimit     int64
	keyLifetime    time.Duration
	keyPrefix      string

	now    func() time.Time
	newKey func(prefix string) (string, error)
}

// NewController creates an admin controller
func NewController(store *storage.KeyStore, l *ledger.Ledger, u usage.Log, opts Options, logger *zap.Logger) *Controller {
	return &Controller{
		store:          store,
		ledger:         l,
		usage:          u,
		logger:         logger,
		username:       sha256.Sum256([]byte(opts.Username)),
		password:       sha256.Sum256([]byte(opts.Password)),
		configured:     opts.Username != "" && opts.Password != "",
		defaultCredits: opts.DefaultCredits,
		dailyLimit:     opts.DefaultDailyLimit,
		keyLifetime:    opts.KeyLifetime,
		keyPrefix:      opts.KeyPrefix,
		now:            time.Now,
		newKey:         GenerateKey,
	}
}

// Authenticate checks cred against the configured admin identity. Any
// mismatch returns models.ErrUnauthorized, whatever field was wrong.
func (c *Controller) Authenticate(cred Credential) (*Session, error) {
	u := sha256.Sum256([]byte(cred.Username))
	p := sha256.Sum256([]byte(cred.Password))

	userOK := subtle.ConstantTimeCompare(u[:], c.username[:])
	passOK := subtle.ConstantTimeCompare(p[:], c.password[:])
	if !c.configured || userOK&passOK != 1 {
		metrics.AdminAuthFailures.Inc()
		return nil, models.ErrUnauthorized
	}
	return &Session{c: c}, nil
}

// EnsureBootstrapKey creates the default key at process start. A configured
// key is used verbatim; otherwise one is generated, but only when the store
// is empty. It reports whether a key was created.
func (c *Controller) EnsureBootstrapKey(key string, credits int64) (*models.APIKey, bool, error) {
	if credits < 0 {
		return nil, false, models.ErrInvalidAmount
	}

	if key == "" {
		if c.store.Len() > 0 {
			return nil, false, nil
		}
		k, err := c.mint("Default Key", credits, c.dailyLimit)
		if err != nil {
			return nil, false, err
		}
		return k, true, nil
	}

	if existing, err := c.store.Get(key); err == nil {
		return existing, false, nil
	}

	record := c.newRecord(key, "Default Key", credits, c.dailyLimit)
	if err := c.store.Create(record); err != nil {
		return nil, false, err
	}
	metrics.KeysMinted.Inc()
	return record.Clone(), true, nil
}

// newRecord builds a fresh key record. A zero key lifetime means the key
// carries no expiry.
func (c *Controller) newRecord(key, name string, credits, dailyLimit int64) *models.APIKey {
	now := c.now().UTC()
	record := &models.APIKey{
		Key:        key,
		Name:       name,
		Credits:    credits,
		DailyLimit: dailyLimit,
		CreatedAt:  now,
	}
	if c.keyLifetime > 0 {
		expires := now.Add(c.keyLifetime)
		record.ExpiresAt = &expires
	}
	return record
}

func (c *Controller) mint(name string, credits, dailyLimit int64) (*models.APIKey, error) {
	for i := 0; i < mintAttempts; i++ {
		value, err := c.newKey(c.keyPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}

		record := c.newRecord(value, name, credits, dailyLimit)
		err = c.store.Create(record)
		if errors.Is(err, models.ErrKeyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.KeysMinted.Inc()
		return record.Clone(), nil
	}
	return nil, fmt.Errorf("failed to mint a unique key after %d attempts", mintAttempts)
}

// Session is an authenticated admin context
type Session struct {
	c *Controller
}

// GenerateKey mints a new key. A nil initialCredits or dailyLimit uses the
// configured default.
func (s *Session) GenerateKey(name string, initialCredits, dailyLimit *int64) (*models.APIKey, error) {
	credits := s.c.defaultCredits
	if initialCredits != nil {
		credits = *initialCredits
	}
	limit := s.c.dailyLimit
	if dailyLimit != nil {
		limit = *dailyLimit
	}
	if credits < 0 || limit < 0 {
		return nil, models.ErrInvalidAmount
	}
	if name == "" {
		name = "User Key"
	}

	key, err := s.c.mint(name, credits, limit)
	if err != nil {
		return nil, err
	}

	s.c.logger.Info("API key generated",
		zap.String("key", models.MaskKey(key.Key)),
		zap.String("name", key.Name),
		zap.Int64("credits", key.Credits),
		zap.Int64("daily_limit", key.DailyLimit))
	return key, nil
}

// ListKeys returns every key with its current balance and usage
func (s *Session) ListKeys() []*models.APIKey {
	return s.c.store.List()
}

// KeyReports returns every key with today's usage and its lifetime spend
func (s *Session) KeyReports(ctx context.Context) ([]models.KeyReport, error) {
	now := s.c.now()
	day := models.DayOf(now)

	keys := s.c.store.List()
	reports := make([]models.KeyReport, 0, len(keys))
	for _, k := range keys {
		summary, err := s.c.usage.Summary(ctx, k.Key, now)
		if err != nil {
			return nil, err
		}
		daily := k.Daily(summary.RequestsToday, day)
		reports = append(reports, models.KeyReport{
			APIKey:         k,
			DailyUsed:      daily.Used,
			RemainingToday: daily.Remaining,
			CreditsUsed:    summary.TotalCreditsUsed,
		})
	}
	return reports, nil
}

// SetDailyLimit changes the daily request limit reported for key
func (s *Session) SetDailyLimit(key string, limit int64) (*models.APIKey, error) {
	if limit < 0 {
		return nil, models.ErrInvalidAmount
	}

	updated, err := s.c.store.Update(key, func(k *models.APIKey) error {
		k.DailyLimit = limit
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.c.logger.Info("Daily limit changed",
		zap.String("key", models.MaskKey(key)),
		zap.Int64("daily_limit", limit))
	return updated, nil
}

// ResetDailyUsage zeroes key's daily counter. Requests already logged
// today stop counting against the limit; the usage log itself is kept.
func (s *Session) ResetDailyUsage(ctx context.Context, key string) (*models.APIKey, error) {
	now := s.c.now()
	summary, err := s.c.usage.Summary(ctx, key, now)
	if err != nil {
		return nil, err
	}

	reset := models.DailyReset{Day: models.DayOf(now), Base: summary.RequestsToday}
	updated, err := s.c.store.Update(key, func(k *models.APIKey) error {
		k.DailyReset = &reset
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.c.logger.Info("Daily usage reset", zap.String("key", models.MaskKey(key)))
	return updated, nil
}

// AddCredits tops up a key's balance
func (s *Session) AddCredits(key string, amount int64) (*models.APIKey, error) {
	updated, err := s.c.ledger.Credit(key, amount)
	if err != nil {
		return nil, err
	}

	metrics.CreditsAdded.Add(float64(amount))
	s.c.logger.Info("Credits added",
		zap.String("key", models.MaskKey(key)),
		zap.Int64("amount", amount),
		zap.Int64("balance", updated.Credits))
	return updated, nil
}

// Stats summarizes the whole gateway
type Stats struct {
	TotalKeys          int                  `json:"total_keys"`
	TotalUsage         int64                `json:"total_paid_requests"`
	OutstandingCredits int64                `json:"outstanding_credits"`
	CreditsUsed        int64                `json:"total_credits_used"`
	RequestsToday      int64                `json:"requests_today"`
	TopKeysToday       []models.KeyActivity `json:"top_keys_today"`
}

// Stats aggregates the key store and the usage log
func (s *Session) Stats(ctx context.Context) (*Stats, error) {
	keys := s.c.store.List()
	st := &Stats{TotalKeys: len(keys)}
	for _, k := range keys {
		st.TotalUsage += k.UsageCount
		st.OutstandingCredits += k.Credits
	}

	today := s.c.now()
	var err error
	if st.CreditsUsed, err = s.c.usage.CreditsUsed(ctx); err != nil {
		return nil, err
	}
	if st.RequestsToday, err = s.c.usage.RequestsOn(ctx, today); err != nil {
		return nil, err
	}
	top, err := s.c.usage.TopKeys(ctx, today, 5)
	if err != nil {
		return nil, err
	}
	for i := range top {
		top[i].Key = models.MaskKey(top[i].Key)
	}
	st.TopKeysToday = top
	return st, nil
}
