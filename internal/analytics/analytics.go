// Package analytics aggregates usage ledger rows into the dashboard read
// models. Everything here is pure: callers pass the key set, the rows and
// the current time.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

// Range selects the reporting window
type Range string

const (
	Range24h Range = "24h"
	Range7d  Range = "7d"
	Range30d Range = "30d"
	Range90d Range = "90d"
)

const (
	topN           = 5
	recentActivity = 10
	day            = 24 * time.Hour
)

// Duration returns the window length
func (r Range) Duration() time.Duration {
	switch r {
	case Range24h:
		return day
	case Range7d:
		return 7 * day
	case Range90d:
		return 90 * day
	default:
		return 30 * day
	}
}

// ParseAnalyticsRange accepts 24h, 7d, 30d and 90d; anything else is 30d.
func ParseAnalyticsRange(s string) Range {
	switch r := Range(s); r {
	case Range24h, Range7d, Range30d, Range90d:
		return r
	default:
		return Range30d
	}
}

// ParseUsageRange accepts 24h, 7d and 30d; anything else is 7d.
func ParseUsageRange(s string) Range {
	switch r := Range(s); r {
	case Range24h, Range7d, Range30d:
		return r
	default:
		return Range7d
	}
}

// KeyInfo is the part of an API key the readers need
type KeyInfo struct {
	ID        uuid.UUID
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// KeyInfoFromModels converts stored keys
func KeyInfoFromModels(keys []models.APIKey) []KeyInfo {
	out := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyInfo{ID: k.ID, Name: k.Name, IsActive: k.IsActive, CreatedAt: k.CreatedAt})
	}
	return out
}

// KeyIDs returns the ids of keys
func KeyIDs(keys []KeyInfo) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.ID)
	}
	return ids
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func percentage(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

// since keeps records created at or after start, newest first.
func since(records []models.UsageRecord, start time.Time) []models.UsageRecord {
	out := make([]models.UsageRecord, 0, len(records))
	for _, r := range records {
		if !r.CreatedAt.Before(start) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func hourKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15") + ":00:00.000Z"
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// counted is a name/count pair ordered by count desc, then name.
type counted struct {
	name  string
	count int
}

func topCounts(m map[string]int, n int) []counted {
	out := make([]counted, 0, len(m))
	for name, c := range m {
		out = append(out, counted{name: name, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
