package probe

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/probeworks/probemeter/internal/domain"
)

const DefaultHTTPTimeout = 10 * time.Second

// HTTPChecker issues a single GET against the target URL. A completed
// request is ok no matter the status code — the code and body size are
// recorded, not judged. Only transport errors and timeouts yield
// Status=error.
type HTTPChecker struct {
	Client *http.Client
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPChecker{
		Client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPChecker) Check(ctx context.Context, t domain.Target) domain.ProbeResult {
	ts := time.Now().UTC()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return domain.ProbeResult{TS: ts, Status: domain.StatusError, ErrorText: err.Error()}
	}

	start := time.Now()
	resp, err := h.Client.Do(req)
	if err != nil {
		return domain.ProbeResult{
			TS:        ts,
			Status:    domain.StatusError,
			LatencyMS: time.Since(start).Seconds() * 1000,
			ErrorText: err.Error(),
		}
	}
	defer resp.Body.Close()

	// Read the body to completion so latency covers the full transfer
	// and the size is real; a broken body mid-read is a probe error.
	size, err := io.Copy(io.Discard, resp.Body)
	latency := time.Since(start).Seconds() * 1000
	if err != nil {
		return domain.ProbeResult{
			TS:         ts,
			Status:     domain.StatusError,
			HTTPStatus: resp.StatusCode,
			LatencyMS:  latency,
			ErrorText:  err.Error(),
		}
	}

	return domain.ProbeResult{
		TS:         ts,
		Status:     domain.StatusOK,
		HTTPStatus: resp.StatusCode,
		LatencyMS:  latency,
		SizeBytes:  size,
	}
}
