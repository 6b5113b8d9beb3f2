package businessflow

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"

	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/repository"
	"github.com/amirphl/snowflake-id/utils"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ProvisioningFlow makes sure every known entity has a counter before ids are requested
type ProvisioningFlow interface {
	// EnsureAll never fails as a whole; every entity gets its own outcome in the report
	EnsureAll(ctx context.Context, entities []string) *models.ProvisionReport
	// Ready checks that the counter storage is reachable
	Ready(ctx context.Context) error
}

// ProvisioningFlowImpl implements ProvisioningFlow
type ProvisioningFlowImpl struct {
	store       repository.CounterStore
	concurrency int
	logger      *log.Logger
}

func NewProvisioningFlow(store repository.CounterStore, concurrency int, logger *log.Logger) ProvisioningFlow {
	if concurrency <= 0 {
		concurrency = utils.DefaultProvisionConcurrency
	}
	if logger == nil {
		logger = log.New(os.Stdout, "provisioning ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
	}
	return &ProvisioningFlowImpl{
		store:       store,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (f *ProvisioningFlowImpl) Ready(ctx context.Context) error {
	if f.store == nil {
		return NewBusinessError(CodeStorageUnavailable, "no counter storage configured", ErrConnectivityUnavailable)
	}
	if err := f.store.Ping(ctx); err != nil {
		return NewBusinessError(CodeStorageUnavailable, "counter storage unavailable", fmt.Errorf("%w: %w", ErrConnectivityUnavailable, err))
	}
	return nil
}

func (f *ProvisioningFlowImpl) EnsureAll(ctx context.Context, entities []string) *models.ProvisionReport {
	report := &models.ProvisionReport{
		RunID:     uuid.NewString(),
		StartedAt: utils.UTCNow(),
		Entities:  utils.Distinct(entities),
		Outcomes:  make(map[string]models.ProvisionOutcome, len(entities)),
	}
	if f.store != nil {
		report.Backend = f.store.Backend()
	}
	defer func() {
		report.FinishedAt = utils.UTCNow()
		observeProvisionReport(report)
		if len(report.Entities) > 0 {
			f.logger.Printf("run %s finished: entities=%d %s", report.RunID, len(report.Entities), formatCounts(report))
		}
	}()

	if len(report.Entities) == 0 {
		return report
	}

	if f.store == nil {
		f.logger.Printf("run %s: no counter storage configured, skipping %d entities", report.RunID, len(report.Entities))
		f.skipAll(report, "no counter storage configured")
		return report
	}
	if err := f.store.Ping(ctx); err != nil {
		f.logger.Printf("run %s: counter storage unavailable, skipping %d entities: %v", report.RunID, len(report.Entities), err)
		f.skipAll(report, err.Error())
		return report
	}

	var storageLost atomic.Bool
	results := make([]models.ProvisionOutcome, len(report.Entities))

	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for i, entity := range report.Entities {
		g.Go(func() error {
			if storageLost.Load() {
				results[i] = models.NewSkippedOutcome(entity, "counter storage became unavailable during provisioning")
				return nil
			}
			if err := ctx.Err(); err != nil {
				results[i] = models.NewSkippedOutcome(entity, err.Error())
				return nil
			}

			outcome := f.store.Ensure(ctx, entity)
			if outcome.Status == models.ProvisionFailed && repository.IsConnectivityError(outcome.Err) {
				if storageLost.CompareAndSwap(false, true) {
					f.logger.Printf("run %s: counter storage lost at %s, skipping remaining entities: %v", report.RunID, entity, outcome.Err)
				}
				results[i] = models.NewSkippedOutcome(entity, outcome.Reason)
				return nil
			}
			if outcome.Status == models.ProvisionFailed {
				f.logger.Printf("run %s: WARNING failed to provision %s: %s", report.RunID, entity, outcome.Reason)
			}
			results[i] = outcome
			return nil
		})
	}
	// workers never return an error
	_ = g.Wait()

	for i, entity := range report.Entities {
		report.Outcomes[entity] = results[i]
	}
	return report
}

func (f *ProvisioningFlowImpl) skipAll(report *models.ProvisionReport, reason string) {
	for _, entity := range report.Entities {
		report.Outcomes[entity] = models.NewSkippedOutcome(entity, reason)
	}
}

func formatCounts(report *models.ProvisionReport) string {
	return fmt.Sprintf("created=%d already_exists=%d skipped=%d failed=%d",
		report.Count(models.ProvisionCreated),
		report.Count(models.ProvisionAlreadyExists),
		report.Count(models.ProvisionSkipped),
		report.Count(models.ProvisionFailed),
	)
}
