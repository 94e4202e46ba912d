package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of run event
type EventType string

const (
	EventRunStarted     EventType = "run.started"
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventStageFailed    EventType = "stage.failed"
	EventRunCompleted   EventType = "run.completed"
	EventRunFailed      EventType = "run.failed"
)

// Stage names
const (
	StageConvert = "convert"
	StageCollect = "collect"
	StageRefine  = "refine"
	StageExport  = "export"
	StagePublish = "publish"
)

// RunEvent reports progress of one refinery run
type RunEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	Stage     string                 `json:"stage,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// NewRunEvent creates a new run event
func NewRunEvent(eventType EventType, runID, stage string) *RunEvent {
	return &RunEvent{
		ID:        GenerateEventID(),
		Type:      eventType,
		RunID:     runID,
		Stage:     stage,
		Timestamp: time.Now(),
		Data:      make(map[string]interface{}),
	}
}

// WithData sets a data field and returns the event
func (e *RunEvent) WithData(key string, value interface{}) *RunEvent {
	e.Data[key] = value
	return e
}

// WithError records err on the event
func (e *RunEvent) WithError(err error) *RunEvent {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return "evt_" + uuid.NewString()
}

// Publisher accepts run events
type Publisher interface {
	Publish(event *RunEvent) error
}

// Emit publishes event on p when p is set. Delivery failures are logged, never returned.
func Emit(p Publisher, event *RunEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(event); err != nil {
		log.Warn().
			Err(err).
			Str("event_type", string(event.Type)).
			Str("run_id", event.RunID).
			Msg("Failed to publish run event")
	}
}
