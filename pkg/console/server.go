package console

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/verisight/riskwatch/internal/core/domain"
	"github.com/verisight/riskwatch/internal/core/services"
)

// Server is the local HTTP surface the UI talks to: start an assessment,
// inspect in-flight jobs, dismiss tracking, and stream events over SSE.
// It renders nothing; presentation stays in the browser.
type Server struct {
	logger   *slog.Logger
	registry *services.JobRegistry
	bus      *services.EventBus
}

func NewServer(logger *slog.Logger, registry *services.JobRegistry, bus *services.EventBus) *Server {
	return &Server{
		logger:   logger,
		registry: registry,
		bus:      bus,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/assessments", s.handleStart)
	mux.HandleFunc("GET /v1/assessments", s.handleList)
	mux.HandleFunc("GET /v1/assessments/{id}/progress", s.handleProgress)
	mux.HandleFunc("DELETE /v1/assessments/{id}", s.handleDismiss)
	mux.HandleFunc("GET /v1/assessments/{id}/events", s.handleJobEvents)
	mux.HandleFunc("GET /v1/events", s.handleGlobalEvents)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

type startRequest struct {
	Target string `json:"target"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	receipt, err := s.registry.Start(r.Context(), req.Target)
	if err != nil {
		s.writeStartError(w, req.Target, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":                    receipt.JobID,
		"target":                    receipt.Target,
		"estimated_completion_time": receipt.EstimatedTime,
	})
}

func (s *Server) writeStartError(w http.ResponseWriter, target string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTooManyJobs):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case domain.IsTransient(err):
		s.logger.Error("assessment submission failed", "target", target, "error", err)
		writeError(w, http.StatusBadGateway, "assessment backend unreachable")
	default:
		s.logger.Error("assessment submission failed", "target", target, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.JobsInFlight())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))
	snap, ok := s.registry.ProgressOf(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not tracked")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))
	if err := s.registry.Dismiss(id); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not tracked")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ch, unsub := s.bus.Subscribe(id)
	defer unsub()
	s.streamEvents(w, r, ch)
}

func (s *Server) handleGlobalEvents(w http.ResponseWriter, r *http.Request) {
	ch, unsub := s.bus.SubscribeGlobal()
	defer unsub()
	s.streamEvents(w, r, ch)
}

// streamEvents pushes bus events to the client as SSE until it hangs up.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, ch <-chan services.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// initial ping so the browser knows the stream is live
	writeSSE(w, "ping", `{"type":"ping"}`)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, string(evt.Type), evt.Data)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event, data string) {
	_, _ = w.Write([]byte("event: " + event + "\ndata: " + data + "\n\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
