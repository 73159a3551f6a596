package services

import (
	"time"

	"github.com/verisight/riskwatch/internal/core/domain"
)

// RetryPolicy is the pure decision function for poll pacing. It holds no
// state; callers feed it the consecutive-error count and elapsed time.
type RetryPolicy struct {
	BaseInterval   time.Duration
	BackoffCap     int // cap on the backoff multiplier, in units of BaseInterval
	ErrorBudget    int
	WallClockLimit time.Duration
}

// NewRetryPolicy builds a policy from config, falling back to the
// reference constants for unset fields.
func NewRetryPolicy(cfg domain.PollingConfig) RetryPolicy {
	p := RetryPolicy{
		BaseInterval:   cfg.Interval,
		BackoffCap:     cfg.BackoffCap,
		ErrorBudget:    cfg.ErrorBudget,
		WallClockLimit: cfg.WallClockLimit,
	}
	if p.BaseInterval <= 0 {
		p.BaseInterval = 5 * time.Second
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = 8
	}
	if p.ErrorBudget <= 0 {
		p.ErrorBudget = 5
	}
	if p.WallClockLimit <= 0 {
		p.WallClockLimit = 15 * time.Minute
	}
	return p
}

// BackoffDelay returns the delay before the next poll after the given
// number of consecutive transient errors: base * 2^errors, capped at
// base * BackoffCap.
func (p RetryPolicy) BackoffDelay(consecutiveErrors int) time.Duration {
	mult := 1
	for i := 0; i < consecutiveErrors; i++ {
		mult *= 2
		if mult >= p.BackoffCap {
			mult = p.BackoffCap
			break
		}
	}
	return p.BaseInterval * time.Duration(mult)
}

// Exhausted reports whether the consecutive-error count has used up the
// error budget.
func (p RetryPolicy) Exhausted(consecutiveErrors int) bool {
	return consecutiveErrors >= p.ErrorBudget
}

// Expired reports whether the job has been tracked longer than the hard
// wall-clock ceiling.
func (p RetryPolicy) Expired(elapsed time.Duration) bool {
	return elapsed >= p.WallClockLimit
}
