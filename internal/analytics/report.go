package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"inference_gateway/internal/models"
)

// ChartBucket is one hourly or daily point of the analytics chart
type ChartBucket struct {
	Date            string `json:"date"`
	Requests        int    `json:"requests"`
	Errors          int    `json:"errors"`
	AvgResponseTime int64  `json:"avgResponseTime"`

	totalResponseTime int64
	responseTimeCount int64
}

type AnalyticsStats struct {
	TotalRequests   int     `json:"totalRequests"`
	TotalErrors     int     `json:"totalErrors"`
	ErrorRate       float64 `json:"errorRate"`
	AvgResponseTime int64   `json:"avgResponseTime"`
	SuccessRate     float64 `json:"successRate"`
}

type KeyUsage struct {
	Name       string `json:"name"`
	Usage      int    `json:"usage"`
	Percentage int    `json:"percentage"`
}

type ErrorCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// AnalyticsReport backs GET /api/analytics
type AnalyticsReport struct {
	ChartData      []ChartBucket  `json:"chartData"`
	Stats          AnalyticsStats `json:"stats"`
	TopKeys        []KeyUsage     `json:"topKeys"`
	ErrorBreakdown []ErrorCount   `json:"errorBreakdown"`
	TimeRange      Range          `json:"timeRange"`
	LastUpdated    time.Time      `json:"lastUpdated"`
}

// BuildAnalytics buckets the window hourly for 24h and daily otherwise.
// Only records with a positive response time contribute to averages.
func BuildAnalytics(keys []KeyInfo, records []models.UsageRecord, r Range, now time.Time) AnalyticsReport {
	now = now.UTC()
	report := AnalyticsReport{
		ChartData:      []ChartBucket{},
		Stats:          AnalyticsStats{SuccessRate: 100},
		TopKeys:        []KeyUsage{},
		ErrorBreakdown: []ErrorCount{},
		TimeRange:      r,
		LastUpdated:    now,
	}
	if len(keys) == 0 {
		return report
	}

	start := now.Add(-r.Duration())
	bucketKey, step := dayKey, day
	if r == Range24h {
		bucketKey, step = hourKey, time.Hour
	}

	var order []string
	buckets := make(map[string]*ChartBucket)
	for cur := start; !cur.After(now); cur = cur.Add(step) {
		k := bucketKey(cur)
		if _, ok := buckets[k]; !ok {
			buckets[k] = &ChartBucket{Date: k}
			order = append(order, k)
		}
	}
	// The final partial bucket is always present.
	if k := bucketKey(now); buckets[k] == nil {
		buckets[k] = &ChartBucket{Date: k}
		order = append(order, k)
	}

	names := make(map[uuid.UUID]string, len(keys))
	for _, k := range keys {
		names[k.ID] = k.Name
	}

	var (
		totalResponseTime int64
		responseTimeCount int64
		keyUsage          = map[string]int{}
		errorTypes        = map[string]int{}
	)

	for _, rec := range since(records, start) {
		if rec.CreatedAt.After(now) {
			continue
		}
		b := buckets[bucketKey(rec.CreatedAt)]
		if b == nil {
			continue
		}

		b.Requests++
		report.Stats.TotalRequests++
		if rec.IsError() {
			b.Errors++
			report.Stats.TotalErrors++
			if rec.ErrorType != nil && *rec.ErrorType != "" {
				errorTypes[*rec.ErrorType]++
			}
		}
		if rec.ResponseTimeMS > 0 {
			b.totalResponseTime += rec.ResponseTimeMS
			b.responseTimeCount++
			totalResponseTime += rec.ResponseTimeMS
			responseTimeCount++
		}

		name, ok := names[rec.APIKeyID]
		if !ok {
			name = "Unknown"
		}
		keyUsage[name]++
	}

	for _, k := range order {
		b := buckets[k]
		if b.responseTimeCount > 0 {
			b.AvgResponseTime = roundDiv(b.totalResponseTime, b.responseTimeCount)
		}
		report.ChartData = append(report.ChartData, *b)
	}

	total := report.Stats.TotalRequests
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(report.Stats.TotalErrors) / float64(total) * 100
	}
	report.Stats.ErrorRate = round2(errorRate)
	report.Stats.SuccessRate = round2(100 - errorRate)
	if responseTimeCount > 0 {
		report.Stats.AvgResponseTime = roundDiv(totalResponseTime, responseTimeCount)
	}

	for _, c := range topCounts(keyUsage, topN) {
		report.TopKeys = append(report.TopKeys, KeyUsage{Name: c.name, Usage: c.count, Percentage: percentage(c.count, total)})
	}
	for _, c := range topCounts(errorTypes, topN) {
		report.ErrorBreakdown = append(report.ErrorBreakdown, ErrorCount{Type: c.name, Count: c.count})
	}
	return report
}

func roundDiv(sum, n int64) int64 {
	return int64(math.Round(float64(sum) / float64(n)))
}

type EndpointUsage struct {
	Endpoint   string `json:"endpoint"`
	Requests   int    `json:"requests"`
	Percentage int    `json:"percentage"`
}

type UsageActivity struct {
	ID           uuid.UUID          `json:"id"`
	Timestamp    time.Time          `json:"timestamp"`
	Endpoint     string             `json:"endpoint"`
	Status       models.UsageStatus `json:"status"`
	ResponseTime int64              `json:"responseTime"`
	Tokens       int                `json:"tokens"`
}

type DailyUsage struct {
	Date       string `json:"date"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
}

// UsageReport backs GET /api/usage
type UsageReport struct {
	TotalRequests       int             `json:"totalRequests"`
	SuccessfulRequests  int             `json:"successfulRequests"`
	FailedRequests      int             `json:"failedRequests"`
	TotalTokens         int             `json:"totalTokens"`
	AverageResponseTime int64           `json:"averageResponseTime"`
	RequestsToday       int             `json:"requestsToday"`
	RequestsThisWeek    int             `json:"requestsThisWeek"`
	RequestsThisMonth   int             `json:"requestsThisMonth"`
	TopEndpoints        []EndpointUsage `json:"topEndpoints"`
	RecentActivity      []UsageActivity `json:"recentActivity"`
	ChartData           []DailyUsage    `json:"chartData"`
}

// BuildUsage summarizes the window. Today, this week and this month are
// counted from UTC midnight and are bounded by the window itself.
func BuildUsage(records []models.UsageRecord, r Range, now time.Time) UsageReport {
	now = now.UTC()
	start := now.Add(-r.Duration())
	rows := since(records, start)

	report := UsageReport{
		TopEndpoints:   []EndpointUsage{},
		RecentActivity: []UsageActivity{},
		ChartData:      []DailyUsage{},
	}

	today := startOfDay(now)
	thisWeek := today.Add(-7 * day)
	thisMonth := today.Add(-30 * day)

	var totalResponseTime int64
	endpoints := map[string]int{}
	daily := map[string]*DailyUsage{}
	for d := start; !d.After(now); d = d.Add(day) {
		k := dayKey(d)
		daily[k] = &DailyUsage{Date: k}
	}

	for _, rec := range rows {
		report.TotalRequests++
		if rec.Status == models.UsageSuccess {
			report.SuccessfulRequests++
		}
		report.TotalTokens += rec.Tokens
		totalResponseTime += rec.ResponseTimeMS

		if !rec.CreatedAt.Before(today) {
			report.RequestsToday++
		}
		if !rec.CreatedAt.Before(thisWeek) {
			report.RequestsThisWeek++
		}
		if !rec.CreatedAt.Before(thisMonth) {
			report.RequestsThisMonth++
		}

		endpoint := rec.Endpoint
		if endpoint == "" {
			endpoint = "unknown"
		}
		endpoints[endpoint]++

		k := dayKey(rec.CreatedAt)
		d := daily[k]
		if d == nil {
			d = &DailyUsage{Date: k}
			daily[k] = d
		}
		d.Total++
		if rec.Status == models.UsageSuccess {
			d.Successful++
		} else {
			d.Failed++
		}

		if len(report.RecentActivity) < recentActivity {
			report.RecentActivity = append(report.RecentActivity, UsageActivity{
				ID:           rec.ID,
				Timestamp:    rec.CreatedAt,
				Endpoint:     endpoint,
				Status:       rec.Status,
				ResponseTime: rec.ResponseTimeMS,
				Tokens:       rec.Tokens,
			})
		}
	}

	report.FailedRequests = report.TotalRequests - report.SuccessfulRequests
	if report.TotalRequests > 0 {
		report.AverageResponseTime = roundDiv(totalResponseTime, int64(report.TotalRequests))
	}

	for _, c := range topCounts(endpoints, topN) {
		report.TopEndpoints = append(report.TopEndpoints, EndpointUsage{
			Endpoint:   c.name,
			Requests:   c.count,
			Percentage: percentage(c.count, report.TotalRequests),
		})
	}

	dates := make([]string, 0, len(daily))
	for k := range daily {
		dates = append(dates, k)
	}
	sort.Strings(dates)
	for _, k := range dates {
		report.ChartData = append(report.ChartData, *daily[k])
	}
	return report
}

type DashboardActivity struct {
	ID        uuid.UUID          `json:"id"`
	Action    string             `json:"action"`
	KeyName   string             `json:"keyName"`
	Timestamp time.Time          `json:"timestamp"`
	Status    models.UsageStatus `json:"status"`
}

// DashboardStats backs GET /api/dashboard/stats
type DashboardStats struct {
	TotalAPICalls       int                 `json:"totalApiCalls"`
	ActiveAPIKeys       int                 `json:"activeApiKeys"`
	SuccessRate         float64             `json:"successRate"`
	APICallsChange      float64             `json:"apiCallsChange"`
	KeysCreatedThisWeek int                 `json:"keysCreatedThisWeek"`
	RecentActivity      []DashboardActivity `json:"recentActivity"`
}

// BuildDashboard compares the last 30 days against the 30 days before.
// With no previous traffic the change is 100 when there is current traffic
// and 0 otherwise.
func BuildDashboard(keys []KeyInfo, records []models.UsageRecord, now time.Time) DashboardStats {
	now = now.UTC()
	rows := since(records, time.Time{})
	oneWeekAgo := now.Add(-7 * day)
	oneMonthAgo := now.Add(-30 * day)
	twoMonthsAgo := now.Add(-60 * day)

	stats := DashboardStats{RecentActivity: []DashboardActivity{}}

	names := make(map[uuid.UUID]string, len(keys))
	for _, k := range keys {
		names[k.ID] = k.Name
		if k.IsActive {
			stats.ActiveAPIKeys++
		}
		if !k.CreatedAt.Before(oneWeekAgo) {
			stats.KeysCreatedThisWeek++
		}
	}

	var successful, thisMonth, lastMonth int
	for _, rec := range rows {
		stats.TotalAPICalls++
		if rec.Status == models.UsageSuccess {
			successful++
		}
		switch {
		case !rec.CreatedAt.Before(oneMonthAgo):
			thisMonth++
		case !rec.CreatedAt.Before(twoMonthsAgo):
			lastMonth++
		}

		if len(stats.RecentActivity) < recentActivity {
			endpoint := rec.Endpoint
			if endpoint == "" {
				endpoint = "unknown endpoint"
			}
			name, ok := names[rec.APIKeyID]
			if !ok {
				name = "Unknown Key"
			}
			stats.RecentActivity = append(stats.RecentActivity, DashboardActivity{
				ID:        rec.ID,
				Action:    "API call to " + endpoint,
				KeyName:   name,
				Timestamp: rec.CreatedAt,
				Status:    rec.Status,
			})
		}
	}

	if stats.TotalAPICalls > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalAPICalls) * 100
	}
	switch {
	case lastMonth > 0:
		stats.APICallsChange = float64(thisMonth-lastMonth) / float64(lastMonth) * 100
	case thisMonth > 0:
		stats.APICallsChange = 100
	}
	return stats
}

// Stats backs GET /api/stats
type Stats struct {
	TotalKeys     int `json:"totalKeys"`
	ActiveKeys    int `json:"activeKeys"`
	TotalRequests int `json:"totalRequests"`
	RequestsToday int `json:"requestsToday"`
}

// BuildStats counts keys and ledger rows; today starts at UTC midnight.
func BuildStats(keys []KeyInfo, records []models.UsageRecord, now time.Time) Stats {
	today := startOfDay(now)
	s := Stats{TotalKeys: len(keys), TotalRequests: len(records)}
	for _, k := range keys {
		if k.IsActive {
			s.ActiveKeys++
		}
	}
	for _, rec := range records {
		if !rec.CreatedAt.Before(today) {
			s.RequestsToday++
		}
	}
	return s
}
