package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/repository"
	"github.com/amirphl/snowflake-id/utils"
)

// MemoryCounterStore is an in-process CounterStore for tests with per-entity failure injection.
// It is linearizable only within one process.
type MemoryCounterStore struct {
	mu          sync.Mutex
	suffix      string
	counters    map[string]int64
	pingErr     error
	ensureErrs  map[string]error
	nextErrs    map[string]error
	ensureCalls map[string]int
	nextCalls   map[string]int
}

var _ repository.CounterStore = (*MemoryCounterStore)(nil)

// NewMemoryCounterStore creates an empty store
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		suffix:      utils.DefaultCounterSuffix,
		counters:    make(map[string]int64),
		ensureErrs:  make(map[string]error),
		nextErrs:    make(map[string]error),
		ensureCalls: make(map[string]int),
		nextCalls:   make(map[string]int),
	}
}

// Backend returns the backend name
func (s *MemoryCounterStore) Backend() string {
	return "memory"
}

// Next increments the entity's counter
func (s *MemoryCounterStore) Next(ctx context.Context, entity string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := utils.ValidateEntityName(entity, s.suffix); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCalls[entity]++
	if err := s.nextErrs[entity]; err != nil {
		return 0, err
	}
	value, ok := s.counters[entity]
	if !ok {
		return 0, fmt.Errorf("%w: %s", repository.ErrCounterNotFound, utils.CounterName(entity, s.suffix))
	}
	value++
	s.counters[entity] = value
	return value, nil
}

// Ensure creates the entity's counter at zero
func (s *MemoryCounterStore) Ensure(ctx context.Context, entity string) models.ProvisionOutcome {
	if err := utils.ValidateEntityName(entity, s.suffix); err != nil {
		return models.NewFailedOutcome(entity, "", err)
	}
	counter := utils.CounterName(entity, s.suffix)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureCalls[entity]++
	if err := s.ensureErrs[entity]; err != nil {
		return models.NewFailedOutcome(entity, counter, err)
	}
	if _, ok := s.counters[entity]; ok {
		return models.NewAlreadyExistsOutcome(entity, counter)
	}
	s.counters[entity] = 0
	return models.NewCreatedOutcome(entity, counter)
}

// Ping returns the injected ping error, if any
func (s *MemoryCounterStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

// Setup is a no-op
func (s *MemoryCounterStore) Setup(ctx context.Context) error {
	return nil
}

// SetPingError makes Ping fail with err (nil clears it)
func (s *MemoryCounterStore) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// FailEnsure makes Ensure for entity fail with err (nil clears it)
func (s *MemoryCounterStore) FailEnsure(entity string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureErrs[entity] = err
}

// FailNext makes Next for entity fail with err (nil clears it)
func (s *MemoryCounterStore) FailNext(entity string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErrs[entity] = err
}

// Seed provisions entity with a starting value
func (s *MemoryCounterStore) Seed(entity string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[entity] = value
}

// Value returns the counter and whether it exists
func (s *MemoryCounterStore) Value(entity string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.counters[entity]
	return value, ok
}

// EnsureCalls returns how often Ensure ran for entity
func (s *MemoryCounterStore) EnsureCalls(entity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureCalls[entity]
}

// NextCalls returns how often Next ran for entity
func (s *MemoryCounterStore) NextCalls(entity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCalls[entity]
}

// Clock is a settable time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at now
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
