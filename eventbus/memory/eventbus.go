// Package memory is an in-process event bus fed with committed events.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/terraskye/eventlog"
)

// ErrSubscriberLagging is reported on Errors when an event is dropped
// because a subscriber's buffer is full.
var ErrSubscriberLagging = errors.New("subscriber lagging")

type subscriber struct {
	name    string
	filter  func(eventlog.RecordedEvent) bool
	handler eventlog.EventHandler
	events  chan eventlog.RecordedEvent
	cancel  context.CancelFunc
}

// EventBus delivers published events to every matching subscriber. Each
// subscriber handles its events in publish order on its own goroutine.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[string]*subscriber
	closed     bool
	errs       chan error
	wg         sync.WaitGroup
	bufferSize int
}

// NewEventBus constructs a new bus with a given subscriber buffer size.
func NewEventBus(bufferSize int) *EventBus {
	return &EventBus{
		subs:       make(map[string]*subscriber),
		errs:       make(chan error, 64),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a handler with a filter and name. The subscription
// ends when ctx is done.
func (b *EventBus) Subscribe(
	ctx context.Context,
	name string,
	filter func(eventlog.RecordedEvent) bool,
	handler eventlog.EventHandler,
) error {
	if filter == nil || handler == nil {
		return errors.New("filter and handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("subscribe %q: %w", name, eventlog.ErrClosed)
	}

	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("handler with name %q already registered", name)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		name:    name,
		filter:  filter,
		handler: handler,
		events:  make(chan eventlog.RecordedEvent, b.bufferSize),
		cancel:  cancel,
	}

	b.subs[name] = s

	b.wg.Add(1)
	go b.runSubscriber(workerCtx, s)

	go func() {
		select {
		case <-ctx.Done():
			b.removeSubscriber(name, s)
		case <-workerCtx.Done():
		}
	}()

	return nil
}

// Errors returns handler failures and dropped deliveries. Errors are
// discarded when nobody drains the channel.
func (b *EventBus) Errors() <-chan error {
	return b.errs
}

// Close shuts down the bus and waits for all workers.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for name, s := range b.subs {
		close(s.events)
		delete(b.subs, name)
	}
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)

	return nil
}

// runSubscriber drains the buffer of one subscriber until it is closed.
func (b *EventBus) runSubscriber(ctx context.Context, s *subscriber) {
	defer b.wg.Done()
	defer s.cancel()

	for ev := range s.events {
		if ctx.Err() != nil {
			return
		}
		if err := s.handler.Handle(eventlog.WithRecordedEvent(ctx, &ev), ev); err != nil {
			b.report(fmt.Errorf("handler %q: %w", s.name, err))
		}
	}
}

func (b *EventBus) report(err error) {
	select {
	case b.errs <- err:
	default:
	}
}

func (b *EventBus) removeSubscriber(name string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[name]; !ok || cur != s {
		return
	}
	delete(b.subs, name)
	s.cancel()
	close(s.events)
}

// Publish sends events to all matching subscribers. A subscriber whose
// buffer is full misses the event and ErrSubscriberLagging is reported.
func (b *EventBus) Publish(_ context.Context, events ...eventlog.RecordedEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return eventlog.ErrClosed
	}

	for _, ev := range events {
		for _, s := range b.subs {
			if !s.filter(ev) {
				continue
			}
			select {
			case s.events <- ev:
			default:
				b.report(fmt.Errorf("handler %q dropped %d@%s: %w", s.name, ev.EventNumber, ev.StreamID, ErrSubscriberLagging))
			}
		}
	}
	return nil
}
