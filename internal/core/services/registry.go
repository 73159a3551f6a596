package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/verisight/riskwatch/internal/core/domain"
	"github.com/verisight/riskwatch/internal/core/ports"
)

// jobReferenceKey is the single well-known persistence key for the
// resumable job reference.
const jobReferenceKey = "riskwatch/active_job"

// JobRegistry tracks the set of in-flight assessments and their latest
// progress snapshots. It is the single writer of in-flight membership;
// each poller is the single writer of its own job's snapshot.
type JobRegistry struct {
	logger   *slog.Logger
	client   ports.AssessmentClient
	store    ports.KeyValueStore
	sched    ports.Scheduler
	notifier ports.Notifier
	policy   RetryPolicy
	sem      *semaphore.Weighted

	// lifeCtx outlives individual requests; pollers run against it so
	// tracking survives the HTTP handler that started the job.
	lifeCtx context.Context

	mu        sync.RWMutex
	pollers   map[domain.JobID]*ProgressPoller
	snapshots map[domain.JobID]domain.ProgressSnapshot
}

func NewJobRegistry(
	lifeCtx context.Context,
	logger *slog.Logger,
	client ports.AssessmentClient,
	store ports.KeyValueStore,
	sched ports.Scheduler,
	notifier ports.Notifier,
	policy RetryPolicy,
	maxConcurrent int64,
) *JobRegistry {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &JobRegistry{
		logger:    logger,
		client:    client,
		store:     store,
		sched:     sched,
		notifier:  notifier,
		policy:    policy,
		sem:       semaphore.NewWeighted(maxConcurrent),
		lifeCtx:   lifeCtx,
		pollers:   make(map[domain.JobID]*ProgressPoller),
		snapshots: make(map[domain.JobID]domain.ProgressSnapshot),
	}
}

// Start submits a new assessment and launches its poller. Returns as
// soon as the backend hands back the job id; polling continues in the
// background.
func (r *JobRegistry) Start(ctx context.Context, target string) (domain.CreateReceipt, error) {
	target = domain.NormalizeTarget(target)
	if err := domain.ValidateTarget(target); err != nil {
		return domain.CreateReceipt{}, err
	}
	if !r.sem.TryAcquire(1) {
		return domain.CreateReceipt{}, domain.ErrTooManyJobs
	}

	receipt, err := r.client.Create(ctx, target)
	if err != nil {
		r.sem.Release(1)
		return domain.CreateReceipt{}, err
	}

	startedAt := r.sched.Now()
	r.persistReference(ctx, domain.JobReference{
		JobID:     receipt.JobID,
		Target:    target,
		StartedAt: startedAt,
	})

	poller := r.track(receipt.JobID, target, startedAt)
	r.logger.Info("assessment started", "job_id", receipt.JobID, "target", target)
	r.notifier.OnStarted(receipt.JobID, target)
	poller.begin(r.lifeCtx)

	return receipt, nil
}

// ListInFlight returns the ids of all currently tracked jobs.
func (r *JobRegistry) ListInFlight() []domain.JobID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.JobID, 0, len(r.pollers))
	for id := range r.pollers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ProgressOf returns the latest known snapshot for an in-flight job.
func (r *JobRegistry) ProgressOf(id domain.JobID) (domain.ProgressSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[id]
	return snap, ok
}

// JobsInFlight assembles the client's view of every tracked job, sorted
// by id. Result stays nil here; in-flight jobs have none by definition.
func (r *JobRegistry) JobsInFlight() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]domain.Job, 0, len(r.pollers))
	for id, p := range r.pollers {
		snap := r.snapshots[id]
		job := domain.Job{
			ID:              id,
			Target:          p.target,
			Status:          snap.Status,
			ProgressPercent: snap.ProgressPercent,
			CurrentStep:     snap.CurrentStep,
			StartedAt:       p.startedAt,
		}
		if snap.Error != "" {
			msg := snap.Error
			job.Error = &msg
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Dismiss stops observing a job without affecting the backend run. The
// backend may still complete it; the client just no longer cares.
func (r *JobRegistry) Dismiss(id domain.JobID) error {
	r.mu.Lock()
	poller, ok := r.pollers[id]
	if ok {
		delete(r.pollers, id)
		delete(r.snapshots, id)
	}
	r.mu.Unlock()

	if !ok {
		return domain.ErrJobNotFound
	}

	poller.stop()
	r.sem.Release(1)
	r.clearReference(id)
	r.logger.Info("assessment dismissed", "job_id", id)
	return nil
}

// ResumeFromPersistence re-launches polling for a job reference left by
// a previous run. Called once at startup, before the console accepts
// requests.
func (r *JobRegistry) ResumeFromPersistence(ctx context.Context) error {
	data, err := r.store.Get(ctx, jobReferenceKey)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read job reference: %w", err)
	}

	var ref domain.JobReference
	if err := json.Unmarshal(data, &ref); err != nil || ref.JobID == "" {
		r.logger.Warn("discarding corrupt job reference", "error", err)
		_ = r.store.Delete(ctx, jobReferenceKey)
		return nil
	}

	if !r.sem.TryAcquire(1) {
		return domain.ErrTooManyJobs
	}

	startedAt := ref.StartedAt
	if startedAt.IsZero() {
		startedAt = r.sched.Now()
	}

	poller := r.track(ref.JobID, ref.Target, startedAt)
	r.logger.Info("resumed tracking persisted assessment",
		"job_id", ref.JobID, "target", ref.Target, "started_at", startedAt)
	r.notifier.OnStarted(ref.JobID, ref.Target)
	poller.begin(r.lifeCtx)
	return nil
}

func (r *JobRegistry) track(id domain.JobID, target string, startedAt time.Time) *ProgressPoller {
	poller := newProgressPoller(r, id, target, startedAt)
	r.mu.Lock()
	r.pollers[id] = poller
	r.snapshots[id] = domain.ProgressSnapshot{
		Status:      domain.JobStatusStarting,
		CurrentStep: "Preparing assessment...",
	}
	r.mu.Unlock()
	return poller
}

// updateSnapshot records a freshly fetched snapshot. Percent values are
// clamped to [0,100] and never regress: the protocol does not promise
// monotonic progress, the UI assumes it.
func (r *JobRegistry) updateSnapshot(id domain.JobID, snap domain.ProgressSnapshot) (domain.ProgressSnapshot, bool) {
	if snap.ProgressPercent < 0 {
		snap.ProgressPercent = 0
	}
	if snap.ProgressPercent > 100 {
		snap.ProgressPercent = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.snapshots[id]
	if !ok {
		return domain.ProgressSnapshot{}, false
	}
	if snap.ProgressPercent < prev.ProgressPercent {
		r.logger.Debug("backend progress regressed, holding previous value",
			"job_id", id, "reported", snap.ProgressPercent, "held", prev.ProgressPercent)
		snap.ProgressPercent = prev.ProgressPercent
	}
	r.snapshots[id] = snap
	return snap, true
}

// finish removes a job on its terminal transition. Returns false if the
// job was already dismissed, in which case the poller must stay silent.
func (r *JobRegistry) finish(id domain.JobID) bool {
	r.mu.Lock()
	_, ok := r.pollers[id]
	if ok {
		delete(r.pollers, id)
		delete(r.snapshots, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.sem.Release(1)
	r.clearReference(id)
	return true
}

func (r *JobRegistry) persistReference(ctx context.Context, ref domain.JobReference) {
	data, err := json.Marshal(ref)
	if err == nil {
		err = r.store.Set(ctx, jobReferenceKey, data)
	}
	if err != nil {
		// Tracking continues in memory; only reload-survival is degraded.
		r.logger.Warn("failed to persist job reference", "job_id", ref.JobID, "error", err)
	}
}

// clearReference deletes the persisted reference iff it belongs to the
// given job. A newer job may own the slot by now.
func (r *JobRegistry) clearReference(id domain.JobID) {
	data, err := r.store.Get(r.lifeCtx, jobReferenceKey)
	if err != nil {
		return
	}
	var ref domain.JobReference
	if err := json.Unmarshal(data, &ref); err == nil && ref.JobID != id {
		return
	}
	if err := r.store.Delete(r.lifeCtx, jobReferenceKey); err != nil {
		r.logger.Warn("failed to clear job reference", "job_id", id, "error", err)
	}
}
