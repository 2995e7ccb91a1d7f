package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/universal-ai/gateway/internal/models"
)

// RedisLog keeps usage in Redis so several gateway instances share it.
//
// Layout under prefix:
//
//	<prefix>:log                list of JSON entries, newest first, trimmed to maxEntries
//	<prefix>:totals:<key>       hash {requests, credits}
//	<prefix>:credits            all-time credits used
//	<prefix>:day:<yyyy-mm-dd>   sorted set key -> requests that day, expires after retention
type RedisLog struct {
	client     *redis.Client
	prefix     string
	maxEntries int64
	retention  time.Duration
}

// NewRedisLog connects to redisURL and verifies the connection
func NewRedisLog(ctx context.Context, redisURL, prefix string, maxEntries int, retention time.Duration) (*RedisLog, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisLog(client, prefix, maxEntries, retention), nil
}

func newRedisLog(client *redis.Client, prefix string, maxEntries int, retention time.Duration) *RedisLog {
	if prefix == "" {
		prefix = "gateway:usage"
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisLog{
		client:     client,
		prefix:     prefix,
		maxEntries: int64(maxEntries),
		retention:  retention,
	}
}

func (r *RedisLog) logKey() string            { return r.prefix + ":log" }
func (r *RedisLog) creditsKey() string        { return r.prefix + ":credits" }
func (r *RedisLog) totalsKey(k string) string { return r.prefix + ":totals:" + k }
func (r *RedisLog) dayKey(t time.Time) string { return r.prefix + ":day:" + dayKey(t) }

func (r *RedisLog) Record(ctx context.Context, entry models.UsageEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal usage entry: %w", err)
	}

	day := r.dayKey(entry.CreatedAt)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.logKey(), data)
		pipe.LTrim(ctx, r.logKey(), 0, r.maxEntries-1)
		pipe.HIncrBy(ctx, r.totalsKey(entry.Key), "requests", 1)
		pipe.HIncrBy(ctx, r.totalsKey(entry.Key), "credits", entry.CreditsUsed)
		pipe.IncrBy(ctx, r.creditsKey(), entry.CreditsUsed)
		pipe.ZIncrBy(ctx, day, 1, entry.Key)
		pipe.Expire(ctx, day, r.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

func (r *RedisLog) Summary(ctx context.Context, key string, day time.Time) (models.UsageSummary, error) {
	var s models.UsageSummary

	totals, err := r.client.HGetAll(ctx, r.totalsKey(key)).Result()
	if err != nil {
		return s, fmt.Errorf("failed to read usage totals: %w", err)
	}
	s.TotalRequests, _ = strconv.ParseInt(totals["requests"], 10, 64)
	s.TotalCreditsUsed, _ = strconv.ParseInt(totals["credits"], 10, 64)

	today, err := r.client.ZScore(ctx, r.dayKey(day), key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return s, fmt.Errorf("failed to read daily usage: %w", err)
	}
	s.RequestsToday = int64(today)
	return s, nil
}

func (r *RedisLog) RequestsOn(ctx context.Context, day time.Time) (int64, error) {
	members, err := r.client.ZRangeWithScores(ctx, r.dayKey(day), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read daily usage: %w", err)
	}
	var n int64
	for _, m := range members {
		n += int64(m.Score)
	}
	return n, nil
}

func (r *RedisLog) CreditsUsed(ctx context.Context) (int64, error) {
	n, err := r.client.Get(ctx, r.creditsKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read credits used: %w", err)
	}
	return n, nil
}

func (r *RedisLog) TopKeys(ctx context.Context, day time.Time, limit int) ([]models.KeyActivity, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := r.client.ZRevRangeWithScores(ctx, r.dayKey(day), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read top keys: %w", err)
	}

	top := make([]models.KeyActivity, 0, len(members))
	for _, m := range members {
		key, _ := m.Member.(string)
		top = append(top, models.KeyActivity{Key: key, Requests: int64(m.Score)})
	}
	return top, nil
}

// Recent returns the newest entries first
func (r *RedisLog) Recent(ctx context.Context, limit int) ([]models.UsageEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := r.client.LRange(ctx, r.logKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage log: %w", err)
	}

	entries := make([]models.UsageEntry, 0, len(raw))
	for _, item := range raw {
		var e models.UsageEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisLog) Close() error {
	return r.client.Close()
}
