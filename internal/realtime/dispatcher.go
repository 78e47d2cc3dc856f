package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultBufferSize     = 16
	defaultMaxSubscribers = 256
)

var (
	// ErrSubscriberLimit is returned when the dispatcher already serves its maximum number of subscribers.
	ErrSubscriberLimit = errors.New("realtime: subscriber limit reached")
	// ErrDispatcherClosed is returned by Subscribe after Close.
	ErrDispatcherClosed = errors.New("realtime: dispatcher closed")
	errNoTopics         = errors.New("realtime: at least one topic is required")
)

// ChangeEvent announces that rows of a table changed. IDs are a hint; consumers re-read.
type ChangeEvent struct {
	Topic     string
	IDs       []string
	Timestamp time.Time
}

// Dispatcher fans change events out to in-process subscribers keyed by topic.
type Dispatcher struct {
	mu             sync.RWMutex
	subscribers    map[int64]*subscriber
	nextID         int64
	bufferSize     int
	maxSubscribers int
	closed         bool
	clock          func() time.Time
}

type subscriber struct {
	id     int64
	topics map[string]struct{}
	stream chan ChangeEvent
}

// NewDispatcher builds a Dispatcher. A non-positive maxSubscribers uses the default.
func NewDispatcher(maxSubscribers int) *Dispatcher {
	if maxSubscribers <= 0 {
		maxSubscribers = defaultMaxSubscribers
	}
	return &Dispatcher{
		subscribers:    make(map[int64]*subscriber),
		bufferSize:     defaultBufferSize,
		maxSubscribers: maxSubscribers,
		clock:          time.Now,
	}
}

// Subscribe registers a stream for the given topics. The stream is released when ctx
// ends or the returned cleanup runs, and closed when the dispatcher closes.
func (d *Dispatcher) Subscribe(ctx context.Context, topics ...string) (<-chan ChangeEvent, func(), error) {
	topicSet := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if topic != "" {
			topicSet[topic] = struct{}{}
		}
	}
	if len(topicSet) == 0 {
		return nil, nil, errNoTopics
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, nil, ErrDispatcherClosed
	}
	if len(d.subscribers) >= d.maxSubscribers {
		d.mu.Unlock()
		return nil, nil, ErrSubscriberLimit
	}
	d.nextID++
	entry := &subscriber{
		id:     d.nextID,
		topics: topicSet,
		stream: make(chan ChangeEvent, d.bufferSize),
	}
	d.subscribers[entry.id] = entry
	d.mu.Unlock()

	released := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(released)
			d.unregister(entry.id)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-released:
		}
	}()
	return entry.stream, cleanup, nil
}

// Publish delivers event to matching subscribers without blocking; a full buffer drops
// the event, which is safe because any pending event already triggers a full re-read.
func (d *Dispatcher) Publish(event ChangeEvent) {
	if event.Topic == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, entry := range d.subscribers {
		if _, ok := entry.topics[event.Topic]; !ok {
			continue
		}
		select {
		case entry.stream <- event:
		default:
		}
	}
}

// Notify publishes a change event for topic.
func (d *Dispatcher) Notify(topic string, ids ...string) {
	d.Publish(ChangeEvent{Topic: topic, IDs: ids, Timestamp: d.clock().UTC()})
}

// SubscriberCount reports the number of live subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

// Close closes every subscriber stream and refuses new subscriptions.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, entry := range d.subscribers {
		close(entry.stream)
		delete(d.subscribers, id)
	}
}

func (d *Dispatcher) unregister(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.subscribers[id]
	if !ok {
		return
	}
	delete(d.subscribers, id)
	close(entry.stream)
}
