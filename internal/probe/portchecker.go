package probe

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/probeworks/probemeter/internal/domain"
)

const DefaultPortTimeout = 5 * time.Second

// PortChecker attempts a TCP connect to the host:port of a tcp://
// target. Success is an established connection; nothing is written.
type PortChecker struct {
	Timeout time.Duration
}

func NewPortChecker(timeout time.Duration) *PortChecker {
	if timeout <= 0 {
		timeout = DefaultPortTimeout
	}
	return &PortChecker{Timeout: timeout}
}

func (p *PortChecker) Check(ctx context.Context, t domain.Target) domain.ProbeResult {
	ts := time.Now().UTC()
	u, err := url.Parse(t.URL)
	if err != nil || u.Host == "" {
		return domain.ProbeResult{TS: ts, Status: domain.StatusError, ErrorText: "invalid tcp target"}
	}

	d := net.Dialer{Timeout: p.Timeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	latency := time.Since(start).Seconds() * 1000
	if err != nil {
		return domain.ProbeResult{
			TS:        ts,
			Status:    domain.StatusError,
			LatencyMS: latency,
			ErrorText: err.Error(),
		}
	}
	_ = conn.Close()

	return domain.ProbeResult{TS: ts, Status: domain.StatusOK, LatencyMS: latency}
}
