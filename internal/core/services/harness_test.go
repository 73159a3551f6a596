package services

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/verisight/riskwatch/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// fakeScheduler is a virtual clock. Callbacks run synchronously on the
// test goroutine when the clock is advanced past their due time, so
// every poller transition is deterministic.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	tasks  []*fakeTask
	delays []time.Duration // every delay ever requested, in order
}

type fakeTask struct {
	due       time.Time
	fn        func()
	cancelled bool
}

func newFakeScheduler(start time.Time) *fakeScheduler {
	return &fakeScheduler{now: start}
}

func (s *fakeScheduler) After(delay time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTask{due: s.now.Add(delay), fn: fn}
	s.tasks = append(s.tasks, t)
	s.delays = append(s.delays, delay)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.cancelled = true
	}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// advance moves the clock forward, firing due callbacks in time order.
func (s *fakeScheduler) advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		task := s.popDue(target)
		if task == nil {
			break
		}
		task.fn()
	}

	s.mu.Lock()
	s.now = target
	s.mu.Unlock()
}

func (s *fakeScheduler) popDue(limit time.Time) *fakeTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1
	for i, t := range s.tasks {
		if t.cancelled || t.due.After(limit) {
			continue
		}
		if best == -1 || t.due.Before(s.tasks[best].due) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	task := s.tasks[best]
	s.tasks = append(s.tasks[:best], s.tasks[best+1:]...)
	if task.due.After(s.now) {
		s.now = task.due
	}
	return task
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// pollReply is one scripted FetchProgress outcome.
type pollReply struct {
	snap domain.ProgressSnapshot
	err  error
}

// scriptedClient replays canned backend responses. When the progress
// script runs out, the last entry repeats.
type scriptedClient struct {
	mu sync.Mutex

	receipt   domain.CreateReceipt
	createErr error

	replies []pollReply

	result    domain.AssessmentResult
	resultErr error

	createCalls   int
	progressCalls int
	resultCalls   int
}

func (c *scriptedClient) Create(_ context.Context, target string) (domain.CreateReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.createErr != nil {
		return domain.CreateReceipt{}, c.createErr
	}
	r := c.receipt
	r.Target = target
	return r, nil
}

func (c *scriptedClient) FetchProgress(_ context.Context, _ domain.JobID) (domain.ProgressSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.progressCalls
	c.progressCalls++
	if len(c.replies) == 0 {
		return domain.ProgressSnapshot{Status: domain.JobStatusProcessing}, nil
	}
	if idx >= len(c.replies) {
		idx = len(c.replies) - 1
	}
	return c.replies[idx].snap, c.replies[idx].err
}

func (c *scriptedClient) FetchResult(_ context.Context, _ domain.JobID) (domain.AssessmentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resultCalls++
	if c.resultErr != nil {
		return domain.AssessmentResult{}, c.resultErr
	}
	return c.result, nil
}

// recordingNotifier captures every notification for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	started   []domain.JobID
	progress  []domain.ProgressSnapshot
	completed []domain.JobID
	failed    map[domain.JobID][]string
	timedOut  []domain.JobID
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{failed: make(map[domain.JobID][]string)}
}

func (n *recordingNotifier) OnStarted(id domain.JobID, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, id)
}

func (n *recordingNotifier) OnProgress(_ domain.JobID, snap domain.ProgressSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, snap)
}

func (n *recordingNotifier) OnCompleted(id domain.JobID, _ domain.AssessmentResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, id)
}

func (n *recordingNotifier) OnFailed(id domain.JobID, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed[id] = append(n.failed[id], message)
}

func (n *recordingNotifier) OnTimedOut(id domain.JobID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.timedOut = append(n.timedOut, id)
}

func (n *recordingNotifier) terminalCount(id domain.JobID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := len(n.failed[id])
	for _, c := range n.completed {
		if c == id {
			count++
		}
	}
	for _, c := range n.timedOut {
		if c == id {
			count++
		}
	}
	return count
}
