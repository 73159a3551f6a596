package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type JobID string

type JobStatus string

const (
	JobStatusStarting   JobStatus = "starting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTimedOut   JobStatus = "timed_out"
)

// Terminal reports whether no further status transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		return true
	}
	return false
}

// Job is one tracked assessment run. The backend owns the job itself;
// this record is the client's view of it.
type Job struct {
	ID              JobID             `json:"job_id"`
	Target          string            `json:"target"`
	Status          JobStatus         `json:"status"`
	ProgressPercent int               `json:"progress_percent"`
	CurrentStep     string            `json:"current_step"`
	StartedAt       time.Time         `json:"started_at"`
	Result          *AssessmentResult `json:"result,omitempty"`
	Error           *string           `json:"error,omitempty"`
}

// AssessmentResult is the heavy payload returned once an assessment
// completes. The client treats it as opaque.
type AssessmentResult struct {
	Raw json.RawMessage `json:"raw"`
}

// ProgressSnapshot is the lightweight status payload returned by a
// single progress poll.
type ProgressSnapshot struct {
	Status          JobStatus `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	CurrentStep     string    `json:"current_step"`
	Error           string    `json:"error,omitempty"`
	RuntimeSeconds  float64   `json:"runtime_seconds"`
}

// CreateReceipt is what the backend returns immediately on job submission.
type CreateReceipt struct {
	JobID         JobID  `json:"job_id"`
	Target        string `json:"target"`
	EstimatedTime string `json:"estimated_time,omitempty"`
}

// JobReference is the durable record that lets the client resume polling
// an in-flight job after a restart. At most one is persisted at a time.
type JobReference struct {
	JobID     JobID     `json:"job_id"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrInvalidTarget = errors.New("invalid target domain")
	ErrNotReady      = errors.New("assessment result not ready")
	ErrTooManyJobs   = errors.New("too many concurrent assessments")
	ErrKeyNotFound   = errors.New("key not found")
)

// TransportError marks a failure to reach the backend (or a backend-side
// 5xx). Polling treats these as transient and retries them; creation does
// not.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "assessor " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transport failure worth retrying.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
