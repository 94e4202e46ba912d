package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(10, 1)
	defer bus.Close()

	var mu sync.Mutex
	var received []*RunEvent

	_, err := bus.Subscribe([]EventType{EventStageCompleted}, func(ctx context.Context, event *RunEvent) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
		return nil
	}, 10)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(NewRunEvent(EventRunStarted, "run_1", "")))
	require.NoError(t, bus.Publish(NewRunEvent(EventStageCompleted, "run_1", StageRefine).WithData("episodes", 2)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventStageCompleted, received[0].Type)
	assert.Equal(t, StageRefine, received[0].Stage)
	assert.Equal(t, 2, received[0].Data["episodes"])
}

func TestEventBus_AllTypesAndOrder(t *testing.T) {
	bus := NewEventBus(50, 1)

	var mu sync.Mutex
	var order []EventType
	_, err := bus.Subscribe(nil, func(ctx context.Context, event *RunEvent) error {
		mu.Lock()
		order = append(order, event.Type)
		mu.Unlock()
		return nil
	}, 50)
	require.NoError(t, err)

	sequence := []EventType{EventRunStarted, EventStageStarted, EventStageCompleted, EventRunCompleted}
	for _, et := range sequence {
		require.NoError(t, bus.Publish(NewRunEvent(et, "run_1", StageConvert)))
	}

	// Close delivers everything already queued
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, sequence, order)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10, 1)
	defer bus.Close()

	sub, err := bus.Subscribe(nil, func(ctx context.Context, event *RunEvent) error { return nil }, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bus.GetStats().ActiveSubscribers)

	require.NoError(t, bus.Unsubscribe(sub.ID))
	assert.Equal(t, int64(0), bus.GetStats().ActiveSubscribers)

	assert.Error(t, bus.Unsubscribe(sub.ID))
}

func TestEventBus_HandlerErrorCounted(t *testing.T) {
	bus := NewEventBus(10, 1)

	_, err := bus.Subscribe(nil, func(ctx context.Context, event *RunEvent) error {
		return errors.New("boom")
	}, 1)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(NewRunEvent(EventRunStarted, "run_1", "")))
	bus.Close()

	stats := bus.GetStats()
	assert.Equal(t, int64(1), stats.EventsPublished)
	assert.Equal(t, int64(1), stats.EventsFailed)
	assert.Equal(t, int64(0), stats.EventsDelivered)
}

func TestEventBus_ClosedRejects(t *testing.T) {
	bus := NewEventBus(1, 1)
	bus.Close()
	bus.Close()

	assert.Error(t, bus.Publish(NewRunEvent(EventRunStarted, "run_1", "")))
	_, err := bus.Subscribe(nil, func(ctx context.Context, event *RunEvent) error { return nil }, 1)
	assert.Error(t, err)
}

func TestEventBus_NilHandler(t *testing.T) {
	bus := NewEventBus(1, 1)
	defer bus.Close()

	_, err := bus.Subscribe(nil, nil, 1)
	assert.Error(t, err)
}

type recordingPublisher struct {
	events []*RunEvent
	err    error
}

func (p *recordingPublisher) Publish(event *RunEvent) error {
	p.events = append(p.events, event)
	return p.err
}

func TestEmit(t *testing.T) {
	Emit(nil, NewRunEvent(EventRunStarted, "run_1", ""))

	p := &recordingPublisher{err: errors.New("full")}
	Emit(p, NewRunEvent(EventRunStarted, "run_1", ""))
	assert.Len(t, p.events, 1)
}

func TestNewRunEvent(t *testing.T) {
	event := NewRunEvent(EventStageFailed, "run_1", StageExport).WithError(errors.New("disk full"))

	assert.Contains(t, event.ID, "evt_")
	assert.Equal(t, "disk full", event.Error)
	assert.NotNil(t, event.Data)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotEqual(t, event.ID, NewRunEvent(EventStageFailed, "run_1", StageExport).ID)
}
