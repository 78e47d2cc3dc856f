package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errFeedDown = errors.New("feed down")

// scriptedFeed answers Subscribe from a queue of outcomes; once the queue is empty it
// delegates to the wrapped dispatcher.
type scriptedFeed struct {
	mu         sync.Mutex
	failures   []error
	dispatcher *Dispatcher
	attempts   int
	released   int
}

func (f *scriptedFeed) Subscribe(ctx context.Context, topics ...string) (<-chan ChangeEvent, func(), error) {
	f.mu.Lock()
	f.attempts++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		f.mu.Unlock()
		return nil, nil, err
	}
	f.mu.Unlock()
	stream, cleanup, err := f.dispatcher.Subscribe(ctx, topics...)
	if err != nil {
		return nil, nil, err
	}
	return stream, func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
		cleanup()
	}, nil
}

func (f *scriptedFeed) releasedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type fakeTicker struct {
	ticks   chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ticks
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type tickerRecorder struct {
	created chan *fakeTicker
}

func newTickerRecorder() *tickerRecorder {
	return &tickerRecorder{created: make(chan *fakeTicker, 4)}
}

func (r *tickerRecorder) factory(time.Duration) Ticker {
	ticker := &fakeTicker{ticks: make(chan time.Time)}
	r.created <- ticker
	return ticker
}

func (r *tickerRecorder) next(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case ticker := <-r.created:
		return ticker
	case <-time.After(time.Second):
		t.Fatal("expected the coordinator to start polling")
		return nil
	}
}

type refreshCounter struct {
	calls chan struct{}
}

func newRefreshCounter() *refreshCounter {
	return &refreshCounter{calls: make(chan struct{}, 64)}
}

func (r *refreshCounter) refresh(context.Context) error {
	r.calls <- struct{}{}
	return nil
}

func (r *refreshCounter) expect(t *testing.T) {
	t.Helper()
	select {
	case <-r.calls:
	case <-time.After(time.Second):
		t.Fatal("expected a view refresh")
	}
}

func (r *refreshCounter) expectNone(t *testing.T) {
	t.Helper()
	select {
	case <-r.calls:
		t.Fatal("did not expect a view refresh")
	case <-time.After(50 * time.Millisecond):
	}
}

func waitForMode(t *testing.T, coordinator *Coordinator, mode Mode) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for coordinator.Mode() != mode {
		if time.Now().After(deadline) {
			t.Fatalf("expected mode %s, got %s", mode, coordinator.Mode())
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForSubscribers(t *testing.T, dispatcher *Dispatcher, count int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount() != count {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", count, dispatcher.SubscriberCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestCoordinator(t *testing.T, feed Feed, counter *refreshCounter, tickers *tickerRecorder) *Coordinator {
	t.Helper()
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Name:         "test-view",
		Feed:         feed,
		Topics:       []string{"pix_requests", "contribuicoes"},
		Refresh:      counter.refresh,
		PollInterval: time.Minute,
		NewTicker:    tickers.factory,
	})
	if err != nil {
		t.Fatalf("failed to build coordinator: %v", err)
	}
	return coordinator
}

func TestCoordinatorRefreshesOnPushEvents(t *testing.T) {
	dispatcher := NewDispatcher(0)
	feed := &scriptedFeed{dispatcher: dispatcher}
	counter := newRefreshCounter()
	coordinator := newTestCoordinator(t, feed, counter, newTickerRecorder())

	coordinator.Start(context.Background())
	defer coordinator.Stop()
	counter.expect(t)
	waitForMode(t, coordinator, ModePush)
	waitForSubscribers(t, dispatcher, 1)

	dispatcher.Notify("pix_requests", "request-1")
	counter.expect(t)

	dispatcher.Notify("site_settings")
	counter.expectNone(t)
}

func TestCoordinatorCatchesWritesDuringInitialRefresh(t *testing.T) {
	dispatcher := NewDispatcher(0)
	counter := newRefreshCounter()
	var once sync.Once
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Name:   "test-view",
		Feed:   dispatcher,
		Topics: []string{"pix_requests"},
		Refresh: func(ctx context.Context) error {
			// A write committing while the first read is in flight.
			once.Do(func() { dispatcher.Notify("pix_requests", "request-1") })
			return counter.refresh(ctx)
		},
		PollInterval: time.Minute,
		NewTicker:    newTickerRecorder().factory,
	})
	if err != nil {
		t.Fatalf("failed to build coordinator: %v", err)
	}

	coordinator.Start(context.Background())
	defer coordinator.Stop()
	counter.expect(t)
	counter.expect(t)
	waitForMode(t, coordinator, ModePush)
}

func TestCoordinatorFallsBackToPollingAndRecovers(t *testing.T) {
	dispatcher := NewDispatcher(0)
	feed := &scriptedFeed{dispatcher: dispatcher, failures: []error{errFeedDown, errFeedDown}}
	counter := newRefreshCounter()
	tickers := newTickerRecorder()
	coordinator := newTestCoordinator(t, feed, counter, tickers)

	coordinator.Start(context.Background())
	defer coordinator.Stop()
	counter.expect(t)

	ticker := tickers.next(t)
	waitForMode(t, coordinator, ModePoll)

	ticker.ticks <- time.Now()
	counter.expect(t)
	if coordinator.Mode() != ModePoll {
		t.Fatalf("expected to keep polling while the feed is down")
	}

	ticker.ticks <- time.Now()
	counter.expect(t)
	waitForMode(t, coordinator, ModePush)
	counter.expect(t)
	if !ticker.isStopped() {
		t.Fatalf("expected poll ticker to stop once the feed recovered")
	}

	waitForSubscribers(t, dispatcher, 1)
	dispatcher.Notify("contribuicoes")
	counter.expect(t)
}

func TestCoordinatorPollsWhenStreamCloses(t *testing.T) {
	dispatcher := NewDispatcher(0)
	feed := &scriptedFeed{dispatcher: dispatcher}
	counter := newRefreshCounter()
	tickers := newTickerRecorder()
	coordinator := newTestCoordinator(t, feed, counter, tickers)

	coordinator.Start(context.Background())
	defer coordinator.Stop()
	counter.expect(t)
	waitForMode(t, coordinator, ModePush)
	waitForSubscribers(t, dispatcher, 1)

	dispatcher.Close()
	tickers.next(t)
	waitForMode(t, coordinator, ModePoll)
}

func TestCoordinatorStopReleasesResources(t *testing.T) {
	dispatcher := NewDispatcher(0)
	feed := &scriptedFeed{dispatcher: dispatcher}
	counter := newRefreshCounter()
	coordinator := newTestCoordinator(t, feed, counter, newTickerRecorder())

	coordinator.Start(context.Background())
	counter.expect(t)
	waitForMode(t, coordinator, ModePush)

	coordinator.Stop()
	coordinator.Stop()
	if coordinator.Mode() != ModeStopped {
		t.Fatalf("expected stopped mode, got %s", coordinator.Mode())
	}
	if feed.releasedCount() != 1 {
		t.Fatalf("expected subscription to be released once, got %d", feed.releasedCount())
	}
	waitForSubscribers(t, dispatcher, 0)
}

func TestCoordinatorStopWhilePollingStopsTicker(t *testing.T) {
	feed := &scriptedFeed{dispatcher: NewDispatcher(0), failures: []error{errFeedDown}}
	counter := newRefreshCounter()
	tickers := newTickerRecorder()
	coordinator := newTestCoordinator(t, feed, counter, tickers)

	coordinator.Start(context.Background())
	ticker := tickers.next(t)
	coordinator.Stop()
	if !ticker.isStopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestNewCoordinatorValidatesConfig(t *testing.T) {
	refresh := func(context.Context) error { return nil }
	if _, err := NewCoordinator(CoordinatorConfig{Refresh: refresh, Topics: []string{"a"}}); err == nil {
		t.Fatalf("expected error without feed")
	}
	if _, err := NewCoordinator(CoordinatorConfig{Feed: NewDispatcher(0), Topics: []string{"a"}}); err == nil {
		t.Fatalf("expected error without refresh")
	}
	if _, err := NewCoordinator(CoordinatorConfig{Feed: NewDispatcher(0), Refresh: refresh}); err == nil {
		t.Fatalf("expected error without topics")
	}
}
