package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Run states
const (
	RunStateRunning   = "running"
	RunStateCompleted = "completed"
	RunStateFailed    = "failed"
)

// StageStatus is the last known state of one stage of a run
type StageStatus struct {
	Name        string                 `json:"name"`
	State       string                 `json:"state"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// RunStatus aggregates the events seen for one run
type RunStatus struct {
	RunID     string         `json:"run_id"`
	State     string         `json:"state"`
	Stages    []*StageStatus `json:"stages"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Error     string         `json:"error,omitempty"`
}

// RunTracker keeps per-run status built from bus events
type RunTracker struct {
	mu   sync.RWMutex
	runs map[string]*RunStatus
	sub  *Subscription
}

// NewRunTracker creates a tracker; call Attach to feed it from a bus
func NewRunTracker() *RunTracker {
	return &RunTracker{runs: make(map[string]*RunStatus)}
}

// Attach subscribes the tracker to every event on bus
func (t *RunTracker) Attach(bus *EventBus) error {
	sub, err := bus.Subscribe(nil, t.Handle, 256)
	if err != nil {
		return err
	}
	t.sub = sub
	return nil
}

// Handle applies one event
func (t *RunTracker) Handle(_ context.Context, event *RunEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[event.RunID]
	if !ok {
		run = &RunStatus{
			RunID:     event.RunID,
			State:     RunStateRunning,
			StartedAt: event.Timestamp,
		}
		t.runs[event.RunID] = run
	}
	run.UpdatedAt = event.Timestamp

	switch event.Type {
	case EventRunStarted:
		run.State = RunStateRunning
		run.StartedAt = event.Timestamp
	case EventStageStarted:
		stage := run.stage(event.Stage)
		stage.State = RunStateRunning
		stage.StartedAt = event.Timestamp
	case EventStageCompleted:
		stage := run.stage(event.Stage)
		stage.State = RunStateCompleted
		stage.CompletedAt = event.Timestamp
		stage.Data = event.Data
	case EventStageFailed:
		stage := run.stage(event.Stage)
		stage.State = RunStateFailed
		stage.CompletedAt = event.Timestamp
		stage.Error = event.Error
	case EventRunCompleted:
		run.State = RunStateCompleted
	case EventRunFailed:
		run.State = RunStateFailed
		run.Error = event.Error
	}
	return nil
}

// Get returns a copy of the status of runID
func (t *RunTracker) Get(runID string) (RunStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	run, ok := t.runs[runID]
	if !ok {
		return RunStatus{}, false
	}
	return run.clone(), true
}

// List returns every known run, most recently started first
func (t *RunTracker) List() []RunStatus {
	t.mu.RLock()
	runs := make([]RunStatus, 0, len(t.runs))
	for _, run := range t.runs {
		runs = append(runs, run.clone())
	}
	t.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

func (r *RunStatus) stage(name string) *StageStatus {
	for _, s := range r.Stages {
		if s.Name == name {
			return s
		}
	}
	s := &StageStatus{Name: name}
	r.Stages = append(r.Stages, s)
	return s
}

func (r *RunStatus) clone() RunStatus {
	c := *r
	c.Stages = make([]*StageStatus, len(r.Stages))
	for i, s := range r.Stages {
		sc := *s
		c.Stages[i] = &sc
	}
	return c
}
