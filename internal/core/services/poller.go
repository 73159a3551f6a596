package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verisight/riskwatch/internal/core/domain"
	"github.com/verisight/riskwatch/internal/core/ports"
)

// ProgressPoller owns one job's lifecycle from submission to a terminal
// state. Every transition is driven by a Scheduler callback; nothing in
// here blocks the caller.
//
// State machine: STARTING → POLLING → {COMPLETED, FAILED, TIMED_OUT}.
// Terminal transitions remove the job from the registry, clear the
// persisted reference and notify exactly once.
type ProgressPoller struct {
	logger   *slog.Logger
	client   ports.AssessmentClient
	sched    ports.Scheduler
	notifier ports.Notifier
	policy   RetryPolicy
	registry *JobRegistry

	jobID     domain.JobID
	target    string
	startedAt time.Time

	mu          sync.Mutex
	errStreak   int
	stopped     bool // dismissed; all further side effects suppressed
	finished    bool // reached a terminal state
	cancelTimer func()
}

func newProgressPoller(reg *JobRegistry, id domain.JobID, target string, startedAt time.Time) *ProgressPoller {
	return &ProgressPoller{
		logger:    reg.logger.With("job_id", string(id)),
		client:    reg.client,
		sched:     reg.sched,
		notifier:  reg.notifier,
		policy:    reg.policy,
		registry:  reg,
		jobID:     id,
		target:    target,
		startedAt: startedAt,
	}
}

// begin schedules the first progress fetch with zero delay. The first
// poll is immediate, not delayed by the base interval.
func (p *ProgressPoller) begin(ctx context.Context) {
	p.schedule(ctx, 0)
}

// stop marks the poller dismissed and cancels any pending callback. A
// timer that already fired observes the flag and does nothing.
func (p *ProgressPoller) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.cancelTimer != nil {
		p.cancelTimer()
		p.cancelTimer = nil
	}
}

func (p *ProgressPoller) schedule(ctx context.Context, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.finished {
		return
	}
	p.cancelTimer = p.sched.After(delay, func() {
		p.step(ctx)
	})
}

func (p *ProgressPoller) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped && !p.finished
}

// step is one POLLING iteration: fetch the snapshot, decide the next
// transition, reschedule or finish.
func (p *ProgressPoller) step(ctx context.Context) {
	if !p.alive() {
		return
	}
	if ctx.Err() != nil {
		// Client shutting down. The persisted reference stays so the
		// next run resumes this job.
		return
	}

	snap, err := p.client.FetchProgress(ctx, p.jobID)
	elapsed := p.sched.Now().Sub(p.startedAt)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if !domain.IsTransient(err) {
			// The backend rejected the poll outright, e.g. a 404 for a
			// stale resumed reference. Retrying cannot help.
			p.finish(terminalOutcome{status: domain.JobStatusFailed, message: err.Error()})
			return
		}
		p.mu.Lock()
		p.errStreak++
		streak := p.errStreak
		p.mu.Unlock()

		if p.policy.Exhausted(streak) {
			p.finish(terminalOutcome{
				status:  domain.JobStatusFailed,
				message: fmt.Sprintf("polling exhausted: %d consecutive errors (last: %v)", streak, err),
			})
			return
		}
		if p.policy.Expired(elapsed) {
			p.finish(terminalOutcome{status: domain.JobStatusTimedOut})
			return
		}
		delay := p.policy.BackoffDelay(streak)
		p.logger.Warn("transient poll error, backing off",
			"error", err, "consecutive_errors", streak, "retry_in", delay)
		p.schedule(ctx, delay)
		return
	}

	p.mu.Lock()
	p.errStreak = 0
	p.mu.Unlock()

	merged, tracked := p.registry.updateSnapshot(p.jobID, snap)
	if !tracked || !p.alive() {
		return
	}
	p.notifier.OnProgress(p.jobID, merged)

	switch {
	case snap.Status == domain.JobStatusCompleted:
		p.fetchResultOnce(ctx)
	case snap.Status.Terminal():
		msg := snap.Error
		if msg == "" {
			msg = "assessment failed"
		}
		p.finish(terminalOutcome{status: domain.JobStatusFailed, message: msg})
	default:
		if p.policy.Expired(elapsed) {
			p.finish(terminalOutcome{status: domain.JobStatusTimedOut})
			return
		}
		p.schedule(ctx, p.policy.BaseInterval)
	}
}

// fetchResultOnce performs the single heavy result fetch after the
// backend reports completion. The fetch is not retried: if it fails the
// job is terminal FAILED.
func (p *ProgressPoller) fetchResultOnce(ctx context.Context) {
	result, err := p.client.FetchResult(ctx, p.jobID)
	if err != nil {
		p.finish(terminalOutcome{
			status:  domain.JobStatusFailed,
			message: fmt.Sprintf("result fetch failed: %v", err),
		})
		return
	}
	p.finish(terminalOutcome{status: domain.JobStatusCompleted, result: result})
}

type terminalOutcome struct {
	status  domain.JobStatus
	message string
	result  domain.AssessmentResult
}

// finish commits the terminal transition: registry removal, persistence
// cleanup and exactly one Notifier call. Safe against concurrent dismiss.
func (p *ProgressPoller) finish(out terminalOutcome) {
	p.mu.Lock()
	if p.stopped || p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.mu.Unlock()

	if !p.registry.finish(p.jobID) {
		// Dismissed in the meantime; the user no longer observes this job.
		return
	}

	switch out.status {
	case domain.JobStatusCompleted:
		p.logger.Info("assessment completed", "target", p.target)
		p.notifier.OnCompleted(p.jobID, out.result)
	case domain.JobStatusTimedOut:
		p.logger.Warn("assessment tracking timed out", "target", p.target,
			"limit", p.policy.WallClockLimit)
		p.notifier.OnTimedOut(p.jobID)
	default:
		p.logger.Error("assessment failed", "target", p.target, "error", out.message)
		p.notifier.OnFailed(p.jobID, out.message)
	}
}
