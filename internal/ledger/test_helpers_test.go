package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSettingsID = "main"

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate ledger schema: %v", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

// steppingClock advances one second per reading so creation order is deterministic.
type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type recordingNotifier struct {
	mu     sync.Mutex
	topics []string
}

func (n *recordingNotifier) Notify(topic string, _ ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topic)
}

func (n *recordingNotifier) count(topic string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, recorded := range n.topics {
		if recorded == topic {
			total++
		}
	}
	return total
}

type testHarness struct {
	service  *Service
	store    Store
	notifier *recordingNotifier
}

func newTestHarness(t *testing.T, store Store) testHarness {
	t.Helper()
	notifier := &recordingNotifier{}
	service, err := NewService(ServiceConfig{
		Store:               store,
		Clock:               newSteppingClock().Now,
		IDProvider:          NewUUIDProvider(),
		Notifier:            notifier,
		SettingsID:          testSettingsID,
		DefaultHeroTitle:    "Help us build the library",
		DefaultHeroSubtitle: "Every contribution counts",
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	if _, err := service.Bootstrap(context.Background()); err != nil {
		t.Fatalf("failed to bootstrap ledger: %v", err)
	}
	return testHarness{service: service, store: store, notifier: notifier}
}

func mustSubmit(t *testing.T, service *Service, name, amount string) PaymentRequest {
	t.Helper()
	request, err := service.Submit(context.Background(), SubmitInput{Name: name, Amount: amount})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	return request
}

func mustDecimal(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", value, err)
	}
	return parsed
}

// assertRaisedMatchesLedger checks that the stored running total equals the sum of
// confirmed contributions.
func assertRaisedMatchesLedger(t *testing.T, store Store, expected string) {
	t.Helper()
	ctx := context.Background()
	settings, err := store.GetSettings(ctx, testSettingsID)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	contributions, err := store.ListConfirmedContributions(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list contributions: %v", err)
	}
	sum := decimal.Zero
	for _, contribution := range contributions {
		sum = sum.Add(contribution.Amount)
	}
	if !settings.Raised.Equal(sum) {
		t.Fatalf("raised %s does not match ledger sum %s", settings.Raised, sum)
	}
	if !settings.Raised.Equal(mustDecimal(t, expected)) {
		t.Fatalf("expected raised %s, got %s", expected, settings.Raised)
	}
}

func countContributionsForRequest(t *testing.T, store Store, requestID string) int {
	t.Helper()
	contributions, err := store.ListConfirmedContributions(context.Background(), 0)
	if err != nil {
		t.Fatalf("failed to list contributions: %v", err)
	}
	total := 0
	for _, contribution := range contributions {
		if contribution.RequestID != nil && *contribution.RequestID == requestID {
			total++
		}
	}
	return total
}

// faultyStore fails selected store methods a fixed number of times before delegating.
// A hook registered with beforeNext runs once, just before the next call of its method
// reaches the wrapped store, so tests can interleave a second operation at that point.
type faultyStore struct {
	Store
	mu       sync.Mutex
	failures map[string][]error
	hooks    map[string][]func()
}

func newFaultyStore(inner Store) *faultyStore {
	return &faultyStore{Store: inner, failures: map[string][]error{}, hooks: map[string][]func(){}}
}

func (s *faultyStore) failNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], err)
}

func (s *faultyStore) beforeNext(method string, hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[method] = append(s.hooks[method], hook)
}

// intercept claims the queued failure and hook for method. The hook runs outside the
// lock and outside any store transaction, so it may call back into the store.
func (s *faultyStore) intercept(method string) error {
	s.mu.Lock()
	var hook func()
	if queue := s.hooks[method]; len(queue) > 0 {
		hook = queue[0]
		s.hooks[method] = queue[1:]
	}
	var err error
	if queue := s.failures[method]; len(queue) > 0 {
		err = queue[0]
		s.failures[method] = queue[1:]
	}
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (s *faultyStore) GetRequest(ctx context.Context, id string) (PaymentRequest, error) {
	if err := s.intercept("GetRequest"); err != nil {
		return PaymentRequest{}, err
	}
	return s.Store.GetRequest(ctx, id)
}

func (s *faultyStore) TransitionRequest(ctx context.Context, id string, from, to RequestStatus) error {
	if err := s.intercept("TransitionRequest"); err != nil {
		return err
	}
	return s.Store.TransitionRequest(ctx, id, from, to)
}

func (s *faultyStore) SettleRequest(ctx context.Context, id string, at time.Time) error {
	if err := s.intercept("SettleRequest"); err != nil {
		return err
	}
	return s.Store.SettleRequest(ctx, id, at)
}

func (s *faultyStore) RevertApproval(ctx context.Context, requestID string) error {
	if err := s.intercept("RevertApproval"); err != nil {
		return err
	}
	return s.Store.RevertApproval(ctx, requestID)
}

func (s *faultyStore) InsertContribution(ctx context.Context, contribution *Contribution) error {
	if err := s.intercept("InsertContribution"); err != nil {
		return err
	}
	return s.Store.InsertContribution(ctx, contribution)
}

func (s *faultyStore) DeleteContribution(ctx context.Context, id string) error {
	if err := s.intercept("DeleteContribution"); err != nil {
		return err
	}
	return s.Store.DeleteContribution(ctx, id)
}

func (s *faultyStore) SumConfirmedContributions(ctx context.Context) (decimal.Decimal, error) {
	if err := s.intercept("SumConfirmedContributions"); err != nil {
		return decimal.Zero, err
	}
	return s.Store.SumConfirmedContributions(ctx)
}

func (s *faultyStore) UpdateSettings(ctx context.Context, id string, patch SettingsPatch) error {
	if err := s.intercept("UpdateSettings"); err != nil {
		return err
	}
	return s.Store.UpdateSettings(ctx, id, patch)
}

func (s *faultyStore) SetRaised(ctx context.Context, id string, version int64, raised decimal.Decimal, at time.Time) error {
	if err := s.intercept("SetRaised"); err != nil {
		return err
	}
	return s.Store.SetRaised(ctx, id, version, raised, at)
}
