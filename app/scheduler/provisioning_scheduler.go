// Package scheduler
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	businessflow "github.com/amirphl/snowflake-id/business_flow"
	"github.com/amirphl/snowflake-id/models"
)

// ProvisioningScheduler periodically re-ensures the configured entity counters, so a
// service that started while storage was down converges once storage comes back
type ProvisioningScheduler struct {
	flow     businessflow.ProvisioningFlow
	entities []string
	interval time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	last *models.ProvisionReport
}

func NewProvisioningScheduler(
	flow businessflow.ProvisioningFlow,
	entities []string,
	interval time.Duration,
	logger *log.Logger,
) *ProvisioningScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ProvisioningScheduler{
		flow:     flow,
		entities: entities,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the scheduler loop in a background goroutine and returns a stop function.
// The first run happens immediately. Runs execute on that goroutine one after another; ticks
// that fire during a slow run are dropped by the ticker.
func (s *ProvisioningScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// LastReport returns the most recent run's report, or nil before the first run finishes
func (s *ProvisioningScheduler) LastReport() *models.ProvisionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *ProvisioningScheduler) runOnce(ctx context.Context) {
	if len(s.entities) == 0 {
		return
	}
	report := s.flow.EnsureAll(ctx, s.entities)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if n := report.Count(models.ProvisionSkipped) + report.Count(models.ProvisionFailed); n > 0 {
		s.logger.Printf("scheduler: provisioning run %s left %d of %d entities unprovisioned", report.RunID, n, len(report.Entities))
	}
}
