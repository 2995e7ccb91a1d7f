// Package usage records authorized requests for per-key and daily reporting.
package usage

import (
	"context"
	"time"

	"github.com/universal-ai/gateway/internal/models"
)

// Log stores usage entries and answers aggregate queries over them
type Log interface {
	Record(ctx context.Context, entry models.UsageEntry) error
	Summary(ctx context.Context, key string, day time.Time) (models.UsageSummary, error)
	RequestsOn(ctx context.Context, day time.Time) (int64, error)
	CreditsUsed(ctx context.Context) (int64, error)
	TopKeys(ctx context.Context, day time.Time, limit int) ([]models.KeyActivity, error)
	Recent(ctx context.Context, limit int) ([]models.UsageEntry, error)
	Close() error
}

func dayKey(t time.Time) string {
	return models.DayOf(t)
}
