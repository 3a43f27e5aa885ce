package domain

import "time"

type ProbeStatus string

const (
	StatusOK    ProbeStatus = "ok"
	StatusError ProbeStatus = "error"
)

// ProbeResult is the outcome of a single probe execution. A probe never
// fails outward: timeouts and network errors become Status=error with
// ErrorText filled in. HTTPStatus and SizeBytes are recorded, not
// interpreted — a 500 response is still Status=ok.
type ProbeResult struct {
	TS         time.Time   `json:"ts"`
	Status     ProbeStatus `json:"status"`
	HTTPStatus int         `json:"http_status,omitempty"`
	LatencyMS  float64     `json:"latency_ms,omitempty"`
	SizeBytes  int64       `json:"size_bytes,omitempty"`
	ErrorText  string      `json:"error,omitempty"`
}

func (r ProbeResult) OK() bool { return r.Status == StatusOK }

// FanoutRecord is one per-watcher history row: the result as delivered
// to a specific subscription.
type FanoutRecord struct {
	TS    time.Time   `json:"ts"`
	WID   WID         `json:"wid"`
	CID   CID         `json:"cid"`
	Probe ProbeResult `json:"probe"`
}

// TargetStats is the rolling aggregate for a canonical target.
// AvgLatencyMS is nil until the first successful check and covers
// successful checks only.
type TargetStats struct {
	CID          CID      `json:"cid"`
	ChecksTotal  int64    `json:"checks_total"`
	ChecksOK     int64    `json:"checks_ok"`
	AvgLatencyMS *float64 `json:"avg_latency_ms"`
}
