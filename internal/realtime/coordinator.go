package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultPollInterval = 30 * time.Second

var (
	errMissingFeed    = errors.New("realtime: feed is required")
	errMissingRefresh = errors.New("realtime: refresh function is required")
	errFeedClosed     = errors.New("realtime: change stream closed")
)

// Feed is a source of change events. Dispatcher implements it.
type Feed interface {
	Subscribe(ctx context.Context, topics ...string) (<-chan ChangeEvent, func(), error)
}

// Ticker is the subset of time.Ticker the coordinator needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every interval.
type TickerFactory func(interval time.Duration) Ticker

type systemTicker struct {
	ticker *time.Ticker
}

func (t systemTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t systemTicker) Stop() {
	t.ticker.Stop()
}

// NewSystemTicker wraps time.NewTicker.
func NewSystemTicker(interval time.Duration) Ticker {
	return systemTicker{ticker: time.NewTicker(interval)}
}

// Mode reports which refresh strategy a coordinator is currently using.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModePush    Mode = "push"
	ModePoll    Mode = "poll"
	ModeStopped Mode = "stopped"
)

// CoordinatorConfig describes a view that must be re-read whenever its tables change.
type CoordinatorConfig struct {
	Name         string
	Feed         Feed
	Topics       []string
	Refresh      func(ctx context.Context) error
	PollInterval time.Duration
	NewTicker    TickerFactory
	Logger       *zap.Logger
}

// Coordinator keeps a view fresh. It re-reads on every change event, coalescing
// bursts, and polls on a fixed interval whenever the feed is unavailable.
type Coordinator struct {
	name         string
	feed         Feed
	topics       []string
	refresh      func(ctx context.Context) error
	pollInterval time.Duration
	newTicker    TickerFactory
	logger       *zap.Logger

	mu      sync.Mutex
	mode    Mode
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCoordinator validates cfg and builds an idle Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	if cfg.Refresh == nil {
		return nil, errMissingRefresh
	}
	if len(cfg.Topics) == 0 {
		return nil, errNoTopics
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	newTicker := cfg.NewTicker
	if newTicker == nil {
		newTicker = NewSystemTicker
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	topics := make([]string, len(cfg.Topics))
	copy(topics, cfg.Topics)
	return &Coordinator{
		name:         cfg.Name,
		feed:         cfg.Feed,
		topics:       topics,
		refresh:      cfg.Refresh,
		pollInterval: interval,
		newTicker:    newTicker,
		logger:       logger.With(zap.String("view", cfg.Name)),
		mode:         ModeIdle,
	}, nil
}

// Start performs an initial refresh and begins following changes. Calling Start again is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)
}

// Stop releases the subscription and ticker and waits for the loop to exit. It is idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.setMode(ModeStopped)
}

// Done is closed when the loop exits, either through Stop or the Start context ending.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Mode reports the active strategy.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Coordinator) setMode(mode Mode) {
	c.mu.Lock()
	previous := c.mode
	c.mode = mode
	c.mu.Unlock()
	if previous != mode {
		c.logger.Debug("refresh mode changed", zap.String("from", string(previous)), zap.String("to", string(mode)))
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	// Subscribe before the first read so a write landing during it still triggers a refresh.
	events, release, err := c.feed.Subscribe(ctx, c.topics...)
	c.refreshView(ctx)
	for {
		if err != nil {
			c.logger.Warn("change feed unavailable, polling", zap.Error(err), zap.Duration("interval", c.pollInterval))
			events, release = c.poll(ctx)
			if events == nil {
				return
			}
			// Writes between the last tick and the new subscription produced no event.
			c.refreshView(ctx)
		}
		closed := c.push(ctx, events)
		release()
		if !closed {
			return
		}
		err = errFeedClosed
	}
}

// push refreshes on every batch of events. It reports true when the stream closed
// while ctx was still live.
func (c *Coordinator) push(ctx context.Context, events <-chan ChangeEvent) bool {
	c.setMode(ModePush)
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-events:
			if !ok {
				return ctx.Err() == nil
			}
			closed := drain(events)
			c.refreshView(ctx)
			if closed {
				return ctx.Err() == nil
			}
		}
	}
}

// poll refreshes on every tick and retries the subscription after each refresh.
// It returns a nil stream when ctx ends.
func (c *Coordinator) poll(ctx context.Context) (<-chan ChangeEvent, func()) {
	c.setMode(ModePoll)
	ticker := c.newTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C():
			c.refreshView(ctx)
			events, release, err := c.feed.Subscribe(ctx, c.topics...)
			if err == nil {
				c.logger.Info("change feed restored")
				return events, release
			}
			c.logger.Debug("change feed still unavailable", zap.Error(err))
		}
	}
}

func (c *Coordinator) refreshView(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := c.refresh(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("view refresh failed", zap.Error(err))
	}
}

// drain discards queued events so one refresh covers a burst. It reports whether the stream closed.
func drain(events <-chan ChangeEvent) bool {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}
