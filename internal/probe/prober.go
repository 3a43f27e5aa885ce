package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/probeworks/probemeter/internal/domain"
)

// Prober dispatches to the checker matching the target's probe type.
type Prober struct {
	HTTP *HTTPChecker
	Port *PortChecker
}

func NewProber(httpTimeout, portTimeout time.Duration) *Prober {
	return &Prober{
		HTTP: NewHTTPChecker(httpTimeout),
		Port: NewPortChecker(portTimeout),
	}
}

func (p *Prober) Check(ctx context.Context, t domain.Target) domain.ProbeResult {
	switch t.ProbeType {
	case domain.ProbeHTTP:
		return p.HTTP.Check(ctx, t)
	case domain.ProbePort:
		return p.Port.Check(ctx, t)
	default:
		return domain.ProbeResult{
			TS:        time.Now().UTC(),
			Status:    domain.StatusError,
			ErrorText: fmt.Sprintf("unknown probe type %q", t.ProbeType),
		}
	}
}
