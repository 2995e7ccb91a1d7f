package models

import (
	"time"
)

// APIKey represents an issued API access key and its credit balance
type APIKey struct {
	Key        string      `json:"key"`
	Name       string      `json:"name"`
	Credits    int64       `json:"credits"`
	UsageCount int64       `json:"usageCount"`
	DailyLimit int64       `json:"dailyLimit"`
	CreatedAt  time.Time   `json:"createdAt"`
	LastUsed   *time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt  *time.Time  `json:"expiresAt,omitempty"`
	DailyReset *DailyReset `json:"dailyReset,omitempty"`
}

// DailyReset marks an admin reset of a key's daily counter. Requests
// recorded on Day before the reset are not counted against the limit.
type DailyReset struct {
	Day  string `json:"day"`
	Base int64  `json:"base"`
}

// DailyUsage is a key's request count for the day against its limit.
// The limit is reported, never enforced.
type DailyUsage struct {
	Used      int64 `json:"daily_used"`
	Limit     int64 `json:"daily_limit"`
	Remaining int64 `json:"remaining_today"`
}

// Clone returns a deep copy so callers never alias a stored record
func (k *APIKey) Clone() *APIKey {
	if k == nil {
		return nil
	}
	c := *k
	if k.LastUsed != nil {
		t := *k.LastUsed
		c.LastUsed = &t
	}
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		c.ExpiresAt = &t
	}
	if k.DailyReset != nil {
		r := *k.DailyReset
		c.DailyReset = &r
	}
	return &c
}

// Deduct removes cost credits and records one use. The caller must have
// verified the balance; Deduct itself never checks it.
func (k *APIKey) Deduct(cost int64, now time.Time) {
	k.Credits -= cost
	k.UsageCount++
	k.LastUsed = &now
}

// Daily reports usage for day given the number of requests the usage log
// holds for the key on that day
func (k *APIKey) Daily(requests int64, day string) DailyUsage {
	used := requests
	if k.DailyReset != nil && k.DailyReset.Day == day {
		used -= k.DailyReset.Base
	}
	if used < 0 {
		used = 0
	}

	remaining := k.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return DailyUsage{Used: used, Limit: k.DailyLimit, Remaining: remaining}
}

// DayOf formats t as the UTC calendar day used for daily counters
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// KeyReport is a key with its usage aggregates, as shown to admins
type KeyReport struct {
	*APIKey
	DailyUsed      int64 `json:"dailyUsed"`
	RemainingToday int64 `json:"remainingToday"`
	CreditsUsed    int64 `json:"creditsUsed"`
}

// MaskKey returns a masked version of the key for logs and responses
func MaskKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
