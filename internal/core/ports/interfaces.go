package ports

import (
	"context"
	"time"

	"github.com/verisight/riskwatch/internal/core/domain"
)

// AssessmentClient abstracts the backend that runs assessments.
type AssessmentClient interface {
	// Create submits a new assessment and returns immediately with the
	// job handle. Returns domain.ErrInvalidTarget for malformed targets
	// and *domain.TransportError when the backend is unreachable.
	Create(ctx context.Context, target string) (domain.CreateReceipt, error)

	// FetchProgress returns the lightweight status snapshot. Cheap and
	// idempotent; safe to call on every poll tick.
	FetchProgress(ctx context.Context, id domain.JobID) (domain.ProgressSnapshot, error)

	// FetchResult retrieves the heavy result payload. Returns
	// domain.ErrNotReady if the job has not completed yet. The poller
	// guarantees at most one call per completed job.
	FetchResult(ctx context.Context, id domain.JobID) (domain.AssessmentResult, error)
}

// KeyValueStore is durable key/value persistence surviving restarts.
// Get returns domain.ErrKeyNotFound for missing keys.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Scheduler is the only source of delayed execution in the core. A
// virtual implementation drives the poller deterministically in tests.
type Scheduler interface {
	// After runs fn once the delay elapses. The returned cancel stops a
	// pending callback; cancelling after it fired is a no-op.
	After(delay time.Duration, fn func()) (cancel func())
	Now() time.Time
}

// Notifier is the capability the core uses to report user-visible job
// events. Implemented by the presentation layer; the core never blocks
// on it.
type Notifier interface {
	OnStarted(id domain.JobID, target string)
	OnProgress(id domain.JobID, snapshot domain.ProgressSnapshot)
	OnCompleted(id domain.JobID, result domain.AssessmentResult)
	OnFailed(id domain.JobID, message string)
	OnTimedOut(id domain.JobID)
}
