// Package events fans out cluster events to WebSocket clients.
package events

import (
	"encoding/json"
	"time"
)

// Event types broadcast by the monitor.
const (
	EventReportReceived     = "report_received"
	EventAlertTriggered     = "alert_triggered"
	EventDecisionMade       = "decision_made"
	EventAgentStatusChanged = "agent_status_changed"
)

// Event types broadcast by the probe's local API.
const (
	EventInspectionStarted   = "inspection_started"
	EventInspectionCompleted = "inspection_completed"
	EventInspectionFailed    = "inspection_failed"
)

// ChannelAll receives every event. Connections are subscribed to it on
// connect; clients may additionally subscribe to individual event types.
const ChannelAll = "all"

// Publisher is the broadcast seam used by the ingest pipeline.
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

// ClientMessage is a message received from a WebSocket client.
type ClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

func marshalEvent(eventType string, now time.Time, data map[string]any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":      eventType,
		"timestamp": now.UTC().Format(time.RFC3339),
		"data":      data,
	})
}
