package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/universal-ai/gateway/internal/models"
)

type keyTotals struct {
	requests int64
	credits  int64
}

// MemoryLog keeps usage in process memory. Recent entries are bounded by
// maxEntries and per-day counters by retention; per-key totals are kept
// for all time.
type MemoryLog struct {
	mu         sync.RWMutex
	entries    []models.UsageEntry
	maxEntries int
	retention  time.Duration
	totals     map[string]*keyTotals
	daily      map[string]map[string]int64
	credits    int64
}

// NewMemoryLog creates an in-memory usage log. A zero retention keeps
// every day.
func NewMemoryLog(maxEntries int, retention time.Duration) *MemoryLog {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryLog{
		entries:    make([]models.UsageEntry, 0, maxEntries),
		maxEntries: maxEntries,
		retention:  retention,
		totals:     make(map[string]*keyTotals),
		daily:      make(map[string]map[string]int64),
	}
}

func (m *MemoryLog) Record(_ context.Context, entry models.UsageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	if len(m.entries) > m.maxEntries {
		m.entries = m.entries[len(m.entries)-m.maxEntries:]
	}

	t, ok := m.totals[entry.Key]
	if !ok {
		t = &keyTotals{}
		m.totals[entry.Key] = t
	}
	t.requests++
	t.credits += entry.CreditsUsed
	m.credits += entry.CreditsUsed

	day := dayKey(entry.CreatedAt)
	if m.daily[day] == nil {
		m.daily[day] = make(map[string]int64)
		m.pruneDays(entry.CreatedAt)
	}
	m.daily[day][entry.Key]++
	return nil
}

// pruneDays drops day counters older than the retention window ending at now
func (m *MemoryLog) pruneDays(now time.Time) {
	if m.retention <= 0 {
		return
	}
	cutoff := dayKey(now.Add(-m.retention))
	for day := range m.daily {
		if day < cutoff {
			delete(m.daily, day)
		}
	}
}

func (m *MemoryLog) Summary(_ context.Context, key string, day time.Time) (models.UsageSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s models.UsageSummary
	if t, ok := m.totals[key]; ok {
		s.TotalRequests = t.requests
		s.TotalCreditsUsed = t.credits
	}
	s.RequestsToday = m.daily[dayKey(day)][key]
	return s, nil
}

func (m *MemoryLog) RequestsOn(_ context.Context, day time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, c := range m.daily[dayKey(day)] {
		n += c
	}
	return n, nil
}

func (m *MemoryLog) CreditsUsed(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credits, nil
}

func (m *MemoryLog) TopKeys(_ context.Context, day time.Time, limit int) ([]models.KeyActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := m.daily[dayKey(day)]
	top := make([]models.KeyActivity, 0, len(counts))
	for k, n := range counts {
		top = append(top, models.KeyActivity{Key: k, Requests: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Requests == top[j].Requests {
			return top[i].Key < top[j].Key
		}
		return top[i].Requests > top[j].Requests
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

// Recent returns the newest entries first
func (m *MemoryLog) Recent(_ context.Context, limit int) ([]models.UsageEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]models.UsageEntry, 0, limit)
	for i := len(m.entries) - 1; i >= len(m.entries)-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *MemoryLog) Close() error { return nil }
