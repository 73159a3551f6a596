package assessor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/verisight/riskwatch/internal/core/domain"
	"github.com/verisight/riskwatch/internal/core/ports"
)

// Client talks to the assessment backend over HTTP. It implements
// ports.AssessmentClient.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

type Config struct {
	BaseURL        string
	APIToken       string
	RequestTimeout time.Duration
	// PollRatePerSecond bounds progress fetches across all jobs so many
	// concurrent pollers stay polite to the backend.
	PollRatePerSecond float64
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PollRatePerSecond <= 0 {
		cfg.PollRatePerSecond = 4
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.APIToken,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.PollRatePerSecond), 1),
	}
}

var _ ports.AssessmentClient = (*Client)(nil)

type createRequest struct {
	Target string `json:"target"`
}

type createResponse struct {
	JobID         string `json:"job_id"`
	EstimatedTime string `json:"estimated_completion_time"`
	Detail        string `json:"detail"`
}

type progressResponse struct {
	Status         string  `json:"status"`
	Progress       int     `json:"progress"`
	CurrentStep    string  `json:"current_step"`
	Error          string  `json:"error,omitempty"`
	Completed      bool    `json:"completed"`
	RuntimeSeconds float64 `json:"runtime_seconds"`
}

type resultResponse struct {
	Result json.RawMessage `json:"result"`
}

func (c *Client) Create(ctx context.Context, target string) (domain.CreateReceipt, error) {
	body, err := json.Marshal(createRequest{Target: target})
	if err != nil {
		return domain.CreateReceipt{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/jobs", bytes.NewReader(body))
	if err != nil {
		return domain.CreateReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.CreateReceipt{}, &domain.TransportError{Op: "create", Err: err}
	}
	defer resp.Body.Close()

	var out createResponse
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if out.Detail == "" {
			out.Detail = "rejected by backend"
		}
		return domain.CreateReceipt{}, fmt.Errorf("%w: %s", domain.ErrInvalidTarget, out.Detail)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return domain.CreateReceipt{}, &domain.TransportError{
			Op:  "create",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.CreateReceipt{}, &domain.TransportError{Op: "create", Err: err}
	}
	if out.JobID == "" {
		return domain.CreateReceipt{}, &domain.TransportError{
			Op:  "create",
			Err: fmt.Errorf("backend returned no job_id"),
		}
	}

	return domain.CreateReceipt{
		JobID:         domain.JobID(out.JobID),
		Target:        target,
		EstimatedTime: out.EstimatedTime,
	}, nil
}

func (c *Client) FetchProgress(ctx context.Context, id domain.JobID) (domain.ProgressSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ProgressSnapshot{}, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/jobs/"+string(id)+"/progress", nil)
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ProgressSnapshot{}, &domain.TransportError{Op: "progress", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ProgressSnapshot{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	case resp.StatusCode != http.StatusOK:
		return domain.ProgressSnapshot{}, &domain.TransportError{
			Op:  "progress",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var out progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ProgressSnapshot{}, &domain.TransportError{Op: "progress", Err: err}
	}

	return domain.ProgressSnapshot{
		Status:          normalizeStatus(out.Status, out.Completed),
		ProgressPercent: out.Progress,
		CurrentStep:     out.CurrentStep,
		Error:           out.Error,
		RuntimeSeconds:  out.RuntimeSeconds,
	}, nil
}

func (c *Client) FetchResult(ctx context.Context, id domain.JobID) (domain.AssessmentResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/jobs/"+string(id)+"/result", nil)
	if err != nil {
		return domain.AssessmentResult{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.AssessmentResult{}, &domain.TransportError{Op: "result", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusNotFound:
		return domain.AssessmentResult{}, domain.ErrNotReady
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.AssessmentResult{}, &domain.TransportError{
			Op:  "result",
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body),
		}
	}

	var out resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.AssessmentResult{}, &domain.TransportError{Op: "result", Err: err}
	}
	return domain.AssessmentResult{Raw: out.Result}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// normalizeStatus maps the backend's wider vocabulary onto the client's
// state machine. Older backend builds report "initializing"/"running".
func normalizeStatus(s string, completed bool) domain.JobStatus {
	switch s {
	case "initializing", "starting":
		return domain.JobStatusStarting
	case "running", "processing":
		return domain.JobStatusProcessing
	case "completed":
		return domain.JobStatusCompleted
	case "failed":
		return domain.JobStatusFailed
	default:
		if completed {
			return domain.JobStatusCompleted
		}
		return domain.JobStatusProcessing
	}
}
