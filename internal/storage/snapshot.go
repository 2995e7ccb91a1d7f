package storage

import (
	"context"
	"sort"

	"github.com/universal-ai/gateway/internal/models"
)

// Snapshotter persists the key table outside the process
type Snapshotter interface {
	Load(ctx context.Context) ([]*models.APIKey, error)
	Save(ctx context.Context, keys []*models.APIKey) error
	Close() error
}

// sortByCreation orders loaded records so the key store sees a stable
// insertion order across restarts
func sortByCreation(keys []*models.APIKey) {
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].Key < keys[j].Key
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
}

// NopSnapshot keeps nothing; used when persistence is disabled
type NopSnapshot struct{}

func (NopSnapshot) Load(context.Context) ([]*models.APIKey, error) { return nil, nil }
func (NopSnapshot) Save(context.Context, []*models.APIKey) error   { return nil }
func (NopSnapshot) Close() error                                   { return nil }
