package models

import (
	"time"
)

// UsageEntry is one authorized request recorded in the usage log
type UsageEntry struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Endpoint    string    `json:"endpoint"`
	CreditsUsed int64     `json:"credits_used"`
	CreatedAt   time.Time `json:"created_at"`
}

// UsageSummary aggregates the usage log for a single key
type UsageSummary struct {
	RequestsToday    int64 `json:"requests_today"`
	TotalRequests    int64 `json:"total_requests"`
	TotalCreditsUsed int64 `json:"total_credits_used"`
}

// KeyActivity is a key with its request count for a day
type KeyActivity struct {
	Key      string `json:"key"`
	Requests int64  `json:"requests"`
}
