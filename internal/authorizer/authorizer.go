// Package authorizer is the single gate every gateway request passes
// before its provider handler runs.
package authorizer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/universal-ai/gateway/internal/ledger"
	"github.com/universal-ai/gateway/internal/metrics"
	"github.com/universal-ai/gateway/internal/models"
	"github.com/universal-ai/gateway/internal/storage"
	"github.com/universal-ai/gateway/internal/usage"
	"go.uber.org/zap"
)

// Authorizer resolves a presented key and applies an endpoint's price
type Authorizer struct {
	store  *storage.KeyStore
	ledger *ledger.Ledger
	usage  usage.Log
	costs  map[string]int64
	logger *zap.Logger
	now    func() time.Time
}

// New creates an authorizer. costs maps endpoint names to credit prices.
func New(store *storage.KeyStore, l *ledger.Ledger, u usage.Log, costs map[string]int64, logger *zap.Logger) *Authorizer {
	table := make(map[string]int64, len(costs))
	for name, cost := range costs {
		table[name] = cost
	}
	return &Authorizer{
		store:  store,
		ledger: l,
		usage:  u,
		costs:  table,
		logger: logger,
		now:    time.Now,
	}
}

// Authorize admits key for an action costing cost credits. A nil error
// means authorized; otherwise the error is models.ErrKeyNotFound,
// models.ErrInsufficientCredits or models.ErrInvalidAmount. Free actions
// only require the key to exist and never mutate it.
func (a *Authorizer) Authorize(key string, cost int64) (*models.APIKey, error) {
	switch {
	case cost < 0:
		return nil, models.ErrInvalidAmount
	case cost == 0:
		return a.store.Get(key)
	default:
		return a.ledger.TryDeduct(key, cost)
	}
}

// Cost returns the price of endpoint
func (a *Authorizer) Cost(endpoint string) (int64, bool) {
	cost, ok := a.costs[endpoint]
	return cost, ok
}

// AuthorizeEndpoint authorizes key for a named endpoint and records the
// outcome. Usage log failures are logged and never turn an authorized
// request into a denied one.
func (a *Authorizer) AuthorizeEndpoint(ctx context.Context, key, endpoint string) (*models.APIKey, error) {
	cost, ok := a.costs[endpoint]
	if !ok {
		metrics.Authorizations.WithLabelValues(endpoint, metrics.OutcomeInvalid).Inc()
		return nil, models.ErrUnknownEndpoint
	}

	record, err := a.Authorize(key, cost)
	if err != nil {
		metrics.Authorizations.WithLabelValues(endpoint, outcome(err)).Inc()
		a.logger.Info("Request denied",
			zap.String("endpoint", endpoint),
			zap.String("key", models.MaskKey(key)),
			zap.Int64("cost", cost),
			zap.Error(err))
		return nil, err
	}

	metrics.Authorizations.WithLabelValues(endpoint, metrics.OutcomeAuthorized).Inc()
	if cost > 0 {
		metrics.CreditsDeducted.WithLabelValues(endpoint).Add(float64(cost))
	}

	entry := models.UsageEntry{
		ID:          uuid.New().String(),
		Key:         key,
		Endpoint:    endpoint,
		CreditsUsed: cost,
		CreatedAt:   a.now().UTC(),
	}
	if err := a.usage.Record(ctx, entry); err != nil {
		a.logger.Warn("Failed to record usage",
			zap.String("endpoint", endpoint),
			zap.String("key", models.MaskKey(key)),
			zap.Error(err))
	}

	return record, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, models.ErrKeyNotFound):
		return metrics.OutcomeKeyNotFound
	case errors.Is(err, models.ErrInsufficientCredits):
		return metrics.OutcomeInsufficient
	default:
		return metrics.OutcomeInvalid
	}
}
