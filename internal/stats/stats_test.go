package stats

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rcliao/netpulse/internal/model"
)

func completed(id, domain, typ string, start, total float64, status int, size int64) model.RequestRecord {
	end := start + total
	return model.RequestRecord{
		RequestID:    id,
		URL:          "https://" + domain + "/" + id,
		Domain:       domain,
		Type:         typ,
		StartTime:    start,
		EndTime:      &end,
		TotalTime:    &total,
		StatusCode:   &status,
		ResponseSize: &size,
	}
}

func TestComputeEmpty(t *testing.T) {
	s := Compute("https://example.com/", nil)
	if !s.Empty() {
		t.Error("expected empty statistics")
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	json.Unmarshal(b, &back)
	if back["byType"] == nil {
		t.Error("breakdowns should marshal as empty arrays, not null")
	}
}

func TestCompute(t *testing.T) {
	ttfb, download := 20.0, 80.0
	withHeaders := completed("a", "example.com", "script", 0, 100, 200, 1000)
	withHeaders.TTFB = &ttfb
	withHeaders.ContentDownloadTime = &download

	failedTotal := 30.0
	failed := model.RequestRecord{RequestID: "f", Domain: "cdn.example.com", Type: "image", TotalTime: &failedTotal, Error: "net::ERR_FAILED"}
	pending := model.RequestRecord{RequestID: "p", Domain: "example.com", Type: "xhr"}

	records := []model.RequestRecord{
		withHeaders,
		completed("b", "example.com", "script", 5, 300, 404, 200),
		completed("c", "cdn.example.com", "image", 10, 50, 301, 0),
		failed,
		pending,
	}

	s := Compute("https://example.com/", records)

	if s.TotalRequests != 5 || s.CompletedRequests != 3 || s.FailedRequests != 1 || s.PendingRequests != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.TotalBytes != 1200 {
		t.Errorf("expected 1200 bytes, got %d", s.TotalBytes)
	}
	// totals sorted: 30, 50, 100, 300
	if s.AvgTotalTime != 120 {
		t.Errorf("expected avg 120, got %v", s.AvgTotalTime)
	}
	if s.MedianTotalTime != 50 {
		t.Errorf("expected median 50, got %v", s.MedianTotalTime)
	}
	if s.P95TotalTime != 300 {
		t.Errorf("expected p95 300, got %v", s.P95TotalTime)
	}
	if s.AvgTTFB != 20 || s.AvgDownloadTime != 80 {
		t.Errorf("unexpected ttfb/download %v/%v", s.AvgTTFB, s.AvgDownloadTime)
	}

	wantStatus := []Count{{"2xx", 1}, {"3xx", 1}, {"4xx", 1}}
	if fmt.Sprint(s.ByStatus) != fmt.Sprint(wantStatus) {
		t.Errorf("byStatus = %v, want %v", s.ByStatus, wantStatus)
	}
	wantTypes := []Count{{"image", 2}, {"script", 2}, {"xhr", 1}}
	if fmt.Sprint(s.ByType) != fmt.Sprint(wantTypes) {
		t.Errorf("byType = %v, want %v", s.ByType, wantTypes)
	}
	if s.TopDomains[0].Key != "example.com" || s.TopDomains[0].Count != 3 {
		t.Errorf("unexpected top domain %+v", s.TopDomains[0])
	}
	if len(s.Slowest) != 4 || s.Slowest[0].TotalTime != 300 {
		t.Errorf("unexpected slowest %+v", s.Slowest)
	}
}

func TestComputeLimits(t *testing.T) {
	var records []model.RequestRecord
	for i := 0; i < 15; i++ {
		records = append(records, completed(fmt.Sprint(i), fmt.Sprintf("d%02d.test", i), "xhr", float64(i), float64(i+1), 200, 1))
	}
	s := Compute("", records)
	if len(s.TopDomains) != 10 {
		t.Errorf("expected 10 domains, got %d", len(s.TopDomains))
	}
	if len(s.Slowest) != 5 {
		t.Errorf("expected 5 slowest, got %d", len(s.Slowest))
	}
	if s.Slowest[0].TotalTime != 15 {
		t.Errorf("expected slowest 15, got %v", s.Slowest[0].TotalTime)
	}
}

func TestComputeIsOrderIndependent(t *testing.T) {
	a := completed("a", "x.test", "script", 0, 10, 200, 5)
	b := completed("b", "y.test", "image", 1, 20, 200, 7)

	s1, _ := json.Marshal(Compute("", []model.RequestRecord{a, b}))
	s2, _ := json.Marshal(Compute("", []model.RequestRecord{b, a}))
	if string(s1) != string(s2) {
		t.Errorf("statistics depend on record order:\n%s\n%s", s1, s2)
	}
}

func TestRecordsOrdering(t *testing.T) {
	m := map[string]model.RequestRecord{
		"z": {RequestID: "z", StartTime: 1},
		"b": {RequestID: "b", StartTime: 5},
		"a": {RequestID: "a", StartTime: 5},
	}
	got := Records(m)
	if got[0].RequestID != "z" || got[1].RequestID != "a" || got[2].RequestID != "b" {
		t.Errorf("unexpected order %v, %v, %v", got[0].RequestID, got[1].RequestID, got[2].RequestID)
	}
}
