// Package model defines the core request-timing and analysis data types.
package model

// State is the lifecycle position of a RequestRecord.
type State string

const (
	StateStarted         State = "started"
	StateHeadersReceived State = "headers_received"
	StateCompleted       State = "completed"
	StateErrored         State = "errored"
)

// Header is a single response header as delivered by the browser.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RequestRecord is one network transaction observed in a tab.
// Times are milliseconds as reported by the event source.
type RequestRecord struct {
	TabID               int      `json:"tabId"`
	RequestID           string   `json:"requestId"`
	URL                 string   `json:"url"`
	Domain              string   `json:"domain"`
	Method              string   `json:"method"`
	Type                string   `json:"type"`
	StartTime           float64  `json:"startTime"`
	HeaderReceivedTime  *float64 `json:"headerReceivedTime,omitempty"`
	EndTime             *float64 `json:"endTime,omitempty"`
	StatusCode          *int     `json:"statusCode,omitempty"`
	Error               string   `json:"error,omitempty"`
	ResponseHeadersSize *int     `json:"responseHeadersSize,omitempty"`
	ResponseSize        *int64   `json:"responseSize,omitempty"`
	TotalTime           *float64 `json:"totalTime,omitempty"`
	TTFB                *float64 `json:"ttfb,omitempty"`
	ContentDownloadTime *float64 `json:"contentDownloadTime,omitempty"`
}

// State derives the lifecycle state from which fields are set.
func (r RequestRecord) State() State {
	switch {
	case r.Error != "":
		return StateErrored
	case r.StatusCode != nil:
		return StateCompleted
	case r.HeaderReceivedTime != nil:
		return StateHeadersReceived
	default:
		return StateStarted
	}
}

// Terminal reports whether the record reached Completed or Errored.
func (r RequestRecord) Terminal() bool {
	s := r.State()
	return s == StateCompleted || s == StateErrored
}

// Clone returns a deep copy; pointer fields are not shared.
func (r RequestRecord) Clone() RequestRecord {
	c := r
	c.HeaderReceivedTime = cloneFloat(r.HeaderReceivedTime)
	c.EndTime = cloneFloat(r.EndTime)
	c.TotalTime = cloneFloat(r.TotalTime)
	c.TTFB = cloneFloat(r.TTFB)
	c.ContentDownloadTime = cloneFloat(r.ContentDownloadTime)
	if r.StatusCode != nil {
		v := *r.StatusCode
		c.StatusCode = &v
	}
	if r.ResponseHeadersSize != nil {
		v := *r.ResponseHeadersSize
		c.ResponseHeadersSize = &v
	}
	if r.ResponseSize != nil {
		v := *r.ResponseSize
		c.ResponseSize = &v
	}
	return c
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NotificationKind distinguishes terminal record events.
type NotificationKind string

const (
	KindCompleted NotificationKind = "completed"
	KindFailed    NotificationKind = "failed"
)

// Notification is pushed to listeners when a record reaches a terminal state.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	TabID     int              `json:"tabId"`
	RequestID string           `json:"requestId"`
	Record    RequestRecord    `json:"record"`
}

// AnalysisResult is the normalized output of an AI provider call.
type AnalysisResult struct {
	Analysis string `json:"analysis"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}
