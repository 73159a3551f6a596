package services

import (
	"encoding/json"
	"time"

	"github.com/verisight/riskwatch/internal/core/domain"
)

// BusNotifier implements ports.Notifier by publishing tagged events onto
// the EventBus. It keeps the core free of any presentation dependency:
// the console's SSE handlers subscribe on the other side.
type BusNotifier struct {
	bus *EventBus
}

func NewBusNotifier(bus *EventBus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (n *BusNotifier) OnStarted(id domain.JobID, target string) {
	n.publish(id, EventTypeStarted, map[string]any{
		"job_id": string(id),
		"target": target,
	})
}

func (n *BusNotifier) OnProgress(id domain.JobID, snapshot domain.ProgressSnapshot) {
	n.publish(id, EventTypeProgress, map[string]any{
		"job_id":       string(id),
		"status":       string(snapshot.Status),
		"progress":     snapshot.ProgressPercent,
		"current_step": snapshot.CurrentStep,
	})
}

func (n *BusNotifier) OnCompleted(id domain.JobID, result domain.AssessmentResult) {
	n.publish(id, EventTypeCompleted, map[string]any{
		"job_id": string(id),
		"result": result.Raw,
	})
}

func (n *BusNotifier) OnFailed(id domain.JobID, message string) {
	n.publish(id, EventTypeFailed, map[string]any{
		"job_id": string(id),
		"error":  message,
	})
}

func (n *BusNotifier) OnTimedOut(id domain.JobID) {
	n.publish(id, EventTypeTimedOut, map[string]any{
		"job_id": string(id),
		"error":  "assessment tracking timed out; the job may still be running server-side",
	})
}

func (n *BusNotifier) publish(id domain.JobID, typ EventType, payload map[string]any) {
	data, _ := json.Marshal(payload)
	n.bus.Publish(Event{
		JobID:     string(id),
		Type:      typ,
		Data:      string(data),
		Timestamp: time.Now().UnixMilli(),
	})
}
