// Package stats summarizes a tab's request records into the aggregate
// statistics sent for analysis and used as the cache fingerprint input.
package stats

import (
	"math"
	"sort"
	"strconv"

	"github.com/rcliao/netpulse/internal/model"
)

const (
	topDomains = 10
	slowest    = 5
)

// Count is one bucket of a breakdown.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// SlowRequest identifies one of the slowest requests.
type SlowRequest struct {
	URL       string  `json:"url"`
	Type      string  `json:"type"`
	TotalTime float64 `json:"totalTime"`
}

// Statistics is the aggregate view of a tab. Field order and slice order
// are fixed so that identical traffic serializes identically.
type Statistics struct {
	PageURL           string        `json:"pageUrl,omitempty"`
	TotalRequests     int           `json:"totalRequests"`
	CompletedRequests int           `json:"completedRequests"`
	FailedRequests    int           `json:"failedRequests"`
	PendingRequests   int           `json:"pendingRequests"`
	TotalBytes        int64         `json:"totalBytes"`
	AvgTotalTime      float64       `json:"avgTotalTime"`
	MedianTotalTime   float64       `json:"medianTotalTime"`
	P95TotalTime      float64       `json:"p95TotalTime"`
	AvgTTFB           float64       `json:"avgTtfb"`
	AvgDownloadTime   float64       `json:"avgDownloadTime"`
	ByType            []Count       `json:"byType"`
	ByStatus          []Count       `json:"byStatus"`
	TopDomains        []Count       `json:"topDomains"`
	Slowest           []SlowRequest `json:"slowest"`
}

// Empty reports whether no requests were summarized.
func (s Statistics) Empty() bool { return s.TotalRequests == 0 }

// Records flattens a tab's record map ordered by start time, then request ID.
func Records(m map[string]model.RequestRecord) []model.RequestRecord {
	out := make([]model.RequestRecord, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

// Compute summarizes records. Timing averages only include records that
// carry the corresponding value.
func Compute(pageURL string, records []model.RequestRecord) Statistics {
	s := Statistics{
		PageURL:       pageURL,
		TotalRequests: len(records),
		ByType:        []Count{},
		ByStatus:      []Count{},
		TopDomains:    []Count{},
		Slowest:       []SlowRequest{},
	}

	byType := map[string]int{}
	byStatus := map[string]int{}
	byDomain := map[string]int{}
	var totals, ttfbs, downloads []float64
	var timed []model.RequestRecord

	for _, r := range records {
		switch r.State() {
		case model.StateCompleted:
			s.CompletedRequests++
			byStatus[statusClass(*r.StatusCode)]++
		case model.StateErrored:
			s.FailedRequests++
		default:
			s.PendingRequests++
		}

		typ := r.Type
		if typ == "" {
			typ = "other"
		}
		byType[typ]++
		if r.Domain != "" {
			byDomain[r.Domain]++
		}
		if r.ResponseSize != nil {
			s.TotalBytes += *r.ResponseSize
		}
		if r.TotalTime != nil {
			totals = append(totals, *r.TotalTime)
			timed = append(timed, r)
		}
		if r.TTFB != nil {
			ttfbs = append(ttfbs, *r.TTFB)
		}
		if r.ContentDownloadTime != nil {
			downloads = append(downloads, *r.ContentDownloadTime)
		}
	}

	sort.Float64s(totals)
	s.AvgTotalTime = round(mean(totals))
	s.MedianTotalTime = round(percentile(totals, 50))
	s.P95TotalTime = round(percentile(totals, 95))
	s.AvgTTFB = round(mean(ttfbs))
	s.AvgDownloadTime = round(mean(downloads))

	s.ByType = counts(byType, 0)
	s.ByStatus = counts(byStatus, 0)
	s.TopDomains = counts(byDomain, topDomains)

	sort.Slice(timed, func(i, j int) bool {
		if *timed[i].TotalTime != *timed[j].TotalTime {
			return *timed[i].TotalTime > *timed[j].TotalTime
		}
		return timed[i].URL < timed[j].URL
	})
	if len(timed) > slowest {
		timed = timed[:slowest]
	}
	for _, r := range timed {
		s.Slowest = append(s.Slowest, SlowRequest{URL: r.URL, Type: r.Type, TotalTime: round(*r.TotalTime)})
	}
	return s
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// counts orders buckets by count descending, then key. limit 0 keeps all.
func counts(m map[string]int, limit int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func round(v float64) float64 { return math.Round(v*100) / 100 }
