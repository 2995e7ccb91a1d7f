package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/universal-ai/gateway/internal/models"
	"go.uber.org/zap"
)

type memorySnapshot struct {
	mu      sync.Mutex
	keys    []*models.APIKey
	saves   int
	saveErr error
}

func (m *memorySnapshot) Load(context.Context) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys, nil
}

func (m *memorySnapshot) Save(_ context.Context, keys []*models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.keys = keys
	m.saves++
	return nil
}

func (m *memorySnapshot) Close() error { return nil }

func (m *memorySnapshot) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func TestSyncer_RestoreDoesNotMarkDirty(t *testing.T) {
	snap := &memorySnapshot{keys: []*models.APIKey{newKey("k1", 5), newKey("k2", 1)}}
	store := NewKeyStore()
	s := NewSyncer(store, snap, time.Minute, zap.NewNop())

	n, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.Len())

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 0, snap.saveCount())
}

func TestSyncer_FlushOnlyWhenChanged(t *testing.T) {
	snap := &memorySnapshot{}
	store := NewKeyStore()
	s := NewSyncer(store, snap, time.Minute, zap.NewNop())
	ctx := context.Background()

	store.Put(newKey("k1", 5))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, snap.saveCount())

	_, err := store.Update("k1", func(k *models.APIKey) error {
		k.Credits--
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 2, snap.saveCount())
	assert.Equal(t, int64(4), snap.keys[0].Credits)
}

func TestSyncer_FailedFlushIsRetried(t *testing.T) {
	snap := &memorySnapshot{saveErr: errors.New("disk full")}
	store := NewKeyStore()
	s := NewSyncer(store, snap, time.Minute, zap.NewNop())

	store.Put(newKey("k1", 5))
	assert.Error(t, s.Flush(context.Background()))

	snap.mu.Lock()
	snap.saveErr = nil
	snap.mu.Unlock()

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, snap.saveCount())
}

func TestSyncer_RunFlushesOnShutdown(t *testing.T) {
	snap := &memorySnapshot{}
	store := NewKeyStore()
	s := NewSyncer(store, snap, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	store.Put(newKey("k1", 5))
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("syncer did not stop")
	}
	assert.Equal(t, 1, snap.saveCount())
}
