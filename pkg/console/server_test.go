package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verisight/riskwatch/internal/adapters/kvmem"
	"github.com/verisight/riskwatch/internal/core/domain"
	"github.com/verisight/riskwatch/internal/core/services"
)

// stubClient answers Create with a scripted outcome and keeps pollers
// parked on a permanent processing snapshot.
type stubClient struct {
	createErr error
	nextID    int
}

func (c *stubClient) Create(ctx context.Context, target string) (domain.CreateReceipt, error) {
	if c.createErr != nil {
		return domain.CreateReceipt{}, c.createErr
	}
	c.nextID++
	return domain.CreateReceipt{
		JobID:         domain.JobID(fmt.Sprintf("job-%03d", c.nextID)),
		Target:        target,
		EstimatedTime: "3-5 minutes",
	}, nil
}

func (c *stubClient) FetchProgress(ctx context.Context, id domain.JobID) (domain.ProgressSnapshot, error) {
	return domain.ProgressSnapshot{
		Status:          domain.JobStatusProcessing,
		ProgressPercent: 40,
		CurrentStep:     "Collecting website data...",
	}, nil
}

func (c *stubClient) FetchResult(ctx context.Context, id domain.JobID) (domain.AssessmentResult, error) {
	return domain.AssessmentResult{}, domain.ErrNotReady
}

// idleScheduler never fires callbacks, so registry state stays exactly
// as the handlers left it.
type idleScheduler struct{}

func (idleScheduler) After(delay time.Duration, fn func()) func() { return func() {} }
func (idleScheduler) Now() time.Time                              { return time.Now() }

type consoleFixture struct {
	server   *httptest.Server
	registry *services.JobRegistry
	client   *stubClient
	bus      *services.EventBus
}

func newConsoleFixture(t *testing.T, maxJobs int64) *consoleFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := &stubClient{}
	bus := services.NewEventBus(logger)
	registry := services.NewJobRegistry(
		context.Background(),
		logger,
		client,
		kvmem.NewStore(),
		idleScheduler{},
		services.NewBusNotifier(bus),
		services.NewRetryPolicy(domain.PollingConfig{}),
		maxJobs,
	)

	srv := httptest.NewServer(NewServer(logger, registry, bus).Handler())
	t.Cleanup(srv.Close)

	return &consoleFixture{server: srv, registry: registry, client: client, bus: bus}
}

func (f *consoleFixture) startAssessment(t *testing.T, target string) (int, map[string]any) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"target": target})
	resp, err := http.Post(f.server.URL+"/v1/assessments", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp.StatusCode, payload
}

func TestConsole_Health(t *testing.T) {
	f := newConsoleFixture(t, 4)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConsole_StartAssessment(t *testing.T) {
	f := newConsoleFixture(t, 4)

	status, payload := f.startAssessment(t, "https://Shopify.com/")
	assert.Equal(t, http.StatusAccepted, status)
	assert.NotEmpty(t, payload["job_id"])
	assert.Equal(t, "shopify.com", payload["target"])
	assert.Equal(t, "3-5 minutes", payload["estimated_completion_time"])
}

func TestConsole_StartRejectsInvalidTarget(t *testing.T) {
	f := newConsoleFixture(t, 4)

	status, payload := f.startAssessment(t, "not a domain")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, payload["detail"])
	assert.Empty(t, f.registry.ListInFlight())
}

func TestConsole_StartRejectsMalformedJSON(t *testing.T) {
	f := newConsoleFixture(t, 4)

	resp, err := http.Post(f.server.URL+"/v1/assessments", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConsole_StartOverCapacity(t *testing.T) {
	f := newConsoleFixture(t, 1)

	status, _ := f.startAssessment(t, "first.com")
	require.Equal(t, http.StatusAccepted, status)

	status, payload := f.startAssessment(t, "second.com")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.NotEmpty(t, payload["detail"])
}

func TestConsole_StartBackendUnreachable(t *testing.T) {
	f := newConsoleFixture(t, 4)
	f.client.createErr = &domain.TransportError{Op: "create", Err: io.ErrUnexpectedEOF}

	status, payload := f.startAssessment(t, "shopify.com")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "assessment backend unreachable", payload["detail"])
	assert.Empty(t, f.registry.ListInFlight())
}

func TestConsole_ListAndProgress(t *testing.T) {
	f := newConsoleFixture(t, 4)

	status, payload := f.startAssessment(t, "shopify.com")
	require.Equal(t, http.StatusAccepted, status)
	jobID := payload["job_id"].(string)

	resp, err := http.Get(f.server.URL + "/v1/assessments")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, jobID, views[0]["job_id"])
	assert.Equal(t, "shopify.com", views[0]["target"])
	assert.Equal(t, string(domain.JobStatusStarting), views[0]["status"])

	progResp, err := http.Get(f.server.URL + "/v1/assessments/" + jobID + "/progress")
	require.NoError(t, err)
	defer progResp.Body.Close()
	require.Equal(t, http.StatusOK, progResp.StatusCode)

	var snap domain.ProgressSnapshot
	require.NoError(t, json.NewDecoder(progResp.Body).Decode(&snap))
	assert.Equal(t, domain.JobStatusStarting, snap.Status)
}

func TestConsole_ProgressUnknownJob(t *testing.T) {
	f := newConsoleFixture(t, 4)

	resp, err := http.Get(f.server.URL + "/v1/assessments/nope/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsole_Dismiss(t *testing.T) {
	f := newConsoleFixture(t, 1)

	status, payload := f.startAssessment(t, "shopify.com")
	require.Equal(t, http.StatusAccepted, status)
	jobID := payload["job_id"].(string)

	req, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/v1/assessments/"+jobID, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.registry.ListInFlight())

	// slot is free again
	status, _ = f.startAssessment(t, "another.com")
	assert.Equal(t, http.StatusAccepted, status)

	// dismissing twice is a 404
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsole_EventStream(t *testing.T) {
	f := newConsoleFixture(t, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the stream opens with a ping frame
	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "event: ping")

	// a started job shows up on the global stream
	f.startAssessment(t, "shopify.com")
	n, err = resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "event: started")
	assert.Contains(t, string(buf[:n]), "shopify.com")
}
