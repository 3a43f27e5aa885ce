package probe

import (
	"context"

	"github.com/probeworks/probemeter/internal/domain"
)

// Checker executes a single network check against a canonical target.
// Implementations never return an error: every failure path becomes a
// ProbeResult with Status=error and the error text captured. One
// attempt per scheduling tick; the timeout is the only retry policy.
type Checker interface {
	Check(ctx context.Context, t domain.Target) domain.ProbeResult
}
