package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// deliveryTimeout bounds how long a dispatcher waits on a slow subscriber
const deliveryTimeout = 5 * time.Second

var (
	ErrBusClosed = errors.New("event bus is shut down")
	ErrBusFull   = errors.New("event buffer is full")
)

// EventHandler handles one run event
type EventHandler func(ctx context.Context, event *RunEvent) error

// Subscription receives the events of the types it lists, in publish order.
// An empty type list receives everything.
type Subscription struct {
	ID         string
	EventTypes []EventType
	Handler    EventHandler
	BufferSize int

	inbox  chan *RunEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (sub *Subscription) matches(event *RunEvent) bool {
	if len(sub.EventTypes) == 0 {
		return true
	}
	for _, t := range sub.EventTypes {
		if t == event.Type {
			return true
		}
	}
	return false
}

// EventBusStats is a snapshot of the bus counters
type EventBusStats struct {
	EventsPublished   int64 `json:"events_published"`
	EventsDelivered   int64 `json:"events_delivered"`
	EventsFailed      int64 `json:"events_failed"`
	EventsDropped     int64 `json:"events_dropped"`
	ActiveSubscribers int64 `json:"active_subscribers"`
	EventsInBuffer    int64 `json:"events_in_buffer"`
}

// EventBus fans run events out to subscribers. Publishing never blocks:
// events go into a bounded queue drained by dispatcher goroutines, and each
// subscriber runs its handler on its own goroutine.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	queue   chan *RunEvent
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	drained chan struct{}

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	active    atomic.Int64
}

// NewEventBus starts a bus with the given queue size and dispatcher count.
// One dispatcher keeps global publish order; more trade ordering across
// subscribers for throughput.
func NewEventBus(bufferSize, workers int) *EventBus {
	workers = max(workers, 1)
	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		subs:    make(map[string]*Subscription),
		queue:   make(chan *RunEvent, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
		drained: make(chan struct{}),
	}
	eb.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go eb.dispatch(i)
	}

	log.Debug().Int("buffer_size", bufferSize).Int("workers", workers).Msg("Event bus started")
	return eb
}

// Publish queues event. A full queue drops it and returns ErrBusFull.
func (eb *EventBus) Publish(event *RunEvent) error {
	if eb.ctx.Err() != nil {
		return ErrBusClosed
	}
	select {
	case eb.queue <- event:
		eb.published.Add(1)
		return nil
	default:
		eb.dropped.Add(1)
		log.Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Str("run_id", event.RunID).
			Msg("Run event dropped, buffer full")
		return ErrBusFull
	}
}

// Subscribe registers handler for eventTypes (all types when empty)
func (eb *EventBus) Subscribe(eventTypes []EventType, handler EventHandler, bufferSize int) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	bufferSize = max(bufferSize, 1)

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.ctx.Err() != nil {
		return nil, ErrBusClosed
	}

	ctx, cancel := context.WithCancel(eb.ctx)
	sub := &Subscription{
		ID:         "sub_" + uuid.NewString(),
		EventTypes: eventTypes,
		Handler:    handler,
		BufferSize: bufferSize,
		inbox:      make(chan *RunEvent, bufferSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	eb.subs[sub.ID] = sub
	eb.active.Add(1)
	go eb.consume(sub)

	log.Debug().Str("subscription_id", sub.ID).Int("types", len(eventTypes)).Msg("Subscribed to run events")
	return sub, nil
}

// Unsubscribe removes a subscription and waits for its handler to return.
// Events still queued for it are discarded.
func (eb *EventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	sub, ok := eb.subs[subscriptionID]
	delete(eb.subs, subscriptionID)
	eb.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}

	sub.cancel()
	<-sub.done
	eb.active.Add(-1)
	return nil
}

// Close stops accepting events, delivers everything already queued and
// waits for every handler to finish. It is safe to call more than once.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	if eb.ctx.Err() != nil {
		eb.mu.Unlock()
		return
	}
	eb.cancel()
	eb.mu.Unlock()

	eb.wg.Wait()
	close(eb.drained)

	eb.mu.Lock()
	remaining := eb.subs
	eb.subs = make(map[string]*Subscription)
	eb.mu.Unlock()

	for _, sub := range remaining {
		<-sub.done
	}
	log.Debug().Int64("published", eb.published.Load()).Msg("Event bus closed")
}

// GetStats returns a snapshot of the bus counters
func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsPublished:   eb.published.Load(),
		EventsDelivered:   eb.delivered.Load(),
		EventsFailed:      eb.failed.Load(),
		EventsDropped:     eb.dropped.Load(),
		ActiveSubscribers: eb.active.Load(),
		EventsInBuffer:    int64(len(eb.queue)),
	}
}

// dispatch moves queued events to subscriber inboxes until the bus closes,
// then empties the queue.
func (eb *EventBus) dispatch(id int) {
	defer eb.wg.Done()
	for {
		select {
		case event := <-eb.queue:
			eb.fanOut(event)
			continue
		case <-eb.ctx.Done():
		}
		for {
			select {
			case event := <-eb.queue:
				eb.fanOut(event)
			default:
				log.Debug().Int("dispatcher", id).Msg("Event dispatcher stopped")
				return
			}
		}
	}
}

func (eb *EventBus) fanOut(event *RunEvent) {
	eb.mu.RLock()
	targets := make([]*Subscription, 0, len(eb.subs))
	for _, sub := range eb.subs {
		if sub.matches(event) {
			targets = append(targets, sub)
		}
	}
	eb.mu.RUnlock()

	for _, sub := range targets {
		timer := time.NewTimer(deliveryTimeout)
		select {
		case sub.inbox <- event:
		case <-sub.done:
		case <-timer.C:
			eb.failed.Add(1)
			log.Warn().Str("subscription_id", sub.ID).Str("event_id", event.ID).Msg("Subscriber too slow, event not delivered")
		}
		timer.Stop()
	}
}

// consume runs sub's handler. On unsubscribe it returns at once; when the
// bus closes it keeps going until the dispatchers are done and its inbox is
// empty.
func (eb *EventBus) consume(sub *Subscription) {
	defer close(sub.done)

	for {
		select {
		case event := <-sub.inbox:
			eb.handle(sub, event)
			continue
		case <-sub.ctx.Done():
		}
		if eb.ctx.Err() == nil {
			return
		}
		break
	}

	for {
		select {
		case event := <-sub.inbox:
			eb.handle(sub, event)
		case <-eb.drained:
			for {
				select {
				case event := <-sub.inbox:
					eb.handle(sub, event)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) handle(sub *Subscription, event *RunEvent) {
	if err := sub.Handler(context.Background(), event); err != nil {
		eb.failed.Add(1)
		log.Error().Err(err).
			Str("subscription_id", sub.ID).
			Str("event_type", string(event.Type)).
			Str("run_id", event.RunID).
			Msg("Run event handler failed")
		return
	}
	eb.delivered.Add(1)
}
