package cmd

import (
	"context"
	"fmt"

	"github.com/universal-ai/gateway/internal/admin"
	"github.com/universal-ai/gateway/internal/authorizer"
	"github.com/universal-ai/gateway/internal/config"
	"github.com/universal-ai/gateway/internal/ledger"
	"github.com/universal-ai/gateway/internal/storage"
	"github.com/universal-ai/gateway/internal/usage"
	"go.uber.org/zap"
)

// core holds the services shared by serve and the keys subcommands
type core struct {
	store      *storage.KeyStore
	snapshot   storage.Snapshotter
	syncer     *storage.Syncer
	ledger     *ledger.Ledger
	usage      usage.Log
	admin      *admin.Controller
	authorizer *authorizer.Authorizer
}

// buildCore opens the configured snapshot and usage backends and restores
// the key store from the snapshot
func buildCore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*core, error) {
	snap, err := openSnapshot(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	store := storage.NewKeyStore()
	syncer := storage.NewSyncer(store, snap, cfg.Storage.FlushInterval, log)
	n, err := syncer.Restore(ctx)
	if err != nil {
		snap.Close()
		return nil, fmt.Errorf("failed to restore keys: %w", err)
	}
	log.Info("Key store restored",
		zap.String("driver", cfg.Storage.Driver),
		zap.Int("keys", n))

	usageLog, err := openUsage(ctx, cfg.Usage)
	if err != nil {
		snap.Close()
		return nil, err
	}

	l := ledger.New(store)
	ctrl := admin.NewController(store, l, usageLog, admin.Options{
		Username:          cfg.Security.AdminUsername,
		Password:          cfg.Security.AdminPassword,
		DefaultCredits:    cfg.Credits.DefaultCredits,
		DefaultDailyLimit: cfg.Credits.DefaultDailyLimit,
		KeyLifetime:       cfg.Credits.KeyLifetime,
		KeyPrefix:         cfg.Credits.KeyPrefix,
	}, log)

	return &core{
		store:      store,
		snapshot:   snap,
		syncer:     syncer,
		ledger:     l,
		usage:      usageLog,
		admin:      ctrl,
		authorizer: authorizer.New(store, l, usageLog, cfg.Endpoints, log),
	}, nil
}

// close releases the backends. The store must be flushed before.
func (c *core) close() {
	c.usage.Close()
	c.snapshot.Close()
}

func openSnapshot(ctx context.Context, cfg config.StorageConfig) (storage.Snapshotter, error) {
	switch cfg.Driver {
	case config.StoragePostgres:
		db, err := storage.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		snap := storage.NewPostgresSnapshot(db)
		if err := snap.Migrate(ctx); err != nil {
			snap.Close()
			return nil, fmt.Errorf("failed to migrate key table: %w", err)
		}
		return snap, nil
	case config.StorageNone:
		return storage.NopSnapshot{}, nil
	default:
		return storage.NewFileSnapshot(cfg.KeysDir), nil
	}
}

func openUsage(ctx context.Context, cfg config.UsageConfig) (usage.Log, error) {
	if cfg.Driver == config.UsageRedis {
		l, err := usage.NewRedisLog(ctx, cfg.RedisURL, cfg.Prefix, cfg.MaxEntries, cfg.Retention)
		if err != nil {
			return nil, fmt.Errorf("failed to open usage log: %w", err)
		}
		return l, nil
	}
	return usage.NewMemoryLog(cfg.MaxEntries, cfg.Retention), nil
}
