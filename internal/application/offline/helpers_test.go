package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/erp/offline/internal/domain/offline"
	"github.com/erp/offline/internal/infrastructure/cache"
	"github.com/erp/offline/internal/infrastructure/connectivity"
	"github.com/erp/offline/internal/infrastructure/migration"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockRemoteSource is a mock implementation of RemoteSource
type MockRemoteSource struct {
	mock.Mock
}

func (m *MockRemoteSource) FetchProviders(ctx context.Context) ([]offline.Provider, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]offline.Provider), args.Error(1)
}

func (m *MockRemoteSource) FetchClients(ctx context.Context) ([]offline.Client, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]offline.Client), args.Error(1)
}

func (m *MockRemoteSource) Replay(ctx context.Context, op offline.PendingOperation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

// fixedClock is a settable time source
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeConnectivity lets tests flip the backend state and publish events
type fakeConnectivity struct {
	mu       sync.Mutex
	online   bool
	handlers map[int]connectivity.Handler
	nextID   int
	// afterCheck runs once, right after the first IsOnline call returns its answer
	afterCheck func()
	checkOnce  sync.Once
}

func newFakeConnectivity(online bool) *fakeConnectivity {
	return &fakeConnectivity{online: online, handlers: make(map[int]connectivity.Handler)}
}

func (f *fakeConnectivity) IsOnline() bool {
	f.mu.Lock()
	online, hook := f.online, f.afterCheck
	f.mu.Unlock()
	if hook != nil {
		f.checkOnce.Do(hook)
	}
	return online
}

func (f *fakeConnectivity) Subscribe(h connectivity.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

func (f *fakeConnectivity) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeConnectivity) set(online bool) {
	f.mu.Lock()
	f.online = online
	handlers := make([]connectivity.Handler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(connectivity.Event{Online: online, At: time.Now()})
	}
}

var testNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	manager *CacheManager
	store   *cache.InMemoryCacheStore
	remote  *MockRemoteSource
	clock   *fixedClock
	runner  *migration.Runner
}

func newTestEnv(t *testing.T, opts ...ManagerOption) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := cache.NewInMemoryCacheStore()
	clock := newFixedClock(testNow)

	runner, err := migration.NewRunner(store, logger, migration.WithClock(clock.Now))
	require.NoError(t, err)

	remote := &MockRemoteSource{}
	opts = append([]ManagerOption{WithClock(clock.Now)}, opts...)
	return &testEnv{
		manager: NewCacheManager(store, remote, runner, logger, opts...),
		store:   store,
		remote:  remote,
		clock:   clock,
		runner:  runner,
	}
}

func testProviders(n int) []offline.Provider {
	providers := make([]offline.Provider, n)
	for i := range providers {
		providers[i] = offline.Provider{
			ID:          fmt.Sprintf("p-%d", i+1),
			Code:        fmt.Sprintf("SUP%03d", i+1),
			Name:        fmt.Sprintf("Supplier %d", i+1),
			Status:      "active",
			CreditDays:  30,
			CreditLimit: decimal.NewFromInt(10000),
		}
	}
	return providers
}

func testClients(n int) []offline.Client {
	clients := make([]offline.Client, n)
	for i := range clients {
		clients[i] = offline.Client{
			ID:          fmt.Sprintf("c-%d", i+1),
			Code:        fmt.Sprintf("CUS%03d", i+1),
			Name:        fmt.Sprintf("Customer %d", i+1),
			Status:      "active",
			CreditLimit: decimal.NewFromInt(500),
		}
	}
	return clients
}

func putRecord(t *testing.T, store offline.LocalStore, entityType offline.EntityType, id string, fetchedAt time.Time) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), offline.CacheRecord{
		EntityType: entityType,
		ID:         id,
		Payload:    json.RawMessage(fmt.Sprintf(`{"id":%q,"name":"cached %s"}`, id, id)),
		FetchedAt:  fetchedAt,
	}))
}

func enqueue(t *testing.T, m *CacheManager, opType offline.OperationType, entityType offline.EntityType, id string) *offline.PendingOperation {
	t.Helper()
	req := EnqueueOperationRequest{
		OperationType: string(opType),
		EntityType:    string(entityType),
		EntityID:      id,
	}
	if opType != offline.OperationDelete {
		req.Payload = json.RawMessage(`{"name":"edited offline"}`)
	}
	op, err := m.EnqueueOperation(context.Background(), req)
	require.NoError(t, err)
	return op
}

func opWithID(id fmt.Stringer) any {
	return mock.MatchedBy(func(op offline.PendingOperation) bool {
		return op.ID.String() == id.String()
	})
}
