package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Syncer writes the key store to a snapshotter whenever it changed
type Syncer struct {
	store    *KeyStore
	snap     Snapshotter
	interval time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	saved uint64
}

// NewSyncer creates a syncer flushing every interval
func NewSyncer(store *KeyStore, snap Snapshotter, interval time.Duration, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:    store,
		snap:     snap,
		interval: interval,
		logger:   logger,
	}
}

// Restore loads the snapshot into the key store
func (s *Syncer) Restore(ctx context.Context) (int, error) {
	keys, err := s.snap.Load(ctx)
	if err != nil {
		return 0, err
	}
	s.store.Replace(keys)
	s.saved = s.store.Version()
	return len(keys), nil
}

// Flush saves the store if it changed since the last flush
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.store.Version()
	if version == s.saved {
		return nil
	}

	keys := s.store.List()
	if err := s.snap.Save(ctx, keys); err != nil {
		return err
	}

	s.saved = version
	s.logger.Debug("Key store flushed", zap.Int("keys", len(keys)), zap.Uint64("version", version))
	return nil
}

// Run flushes periodically until ctx is done, then flushes one last time
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.Flush(finalCtx); err != nil {
				s.logger.Error("Final key store flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("Key store flush failed", zap.Error(err))
			}
		}
	}
}
