package businessflow

import (
	"time"

	"github.com/amirphl/snowflake-id/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	invalidEntityLabel = "_invalid"
	otherEntityLabel   = "_other"
)

var (
	// IDs generated partitioned by entity
	idsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowflake_ids_generated_total",
			Help: "Total number of ids generated",
		},
		[]string{"entity"},
	)

	// Generation failures partitioned by entity and error code
	generateErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowflake_generate_errors_total",
			Help: "Total number of failed id generations",
		},
		[]string{"entity", "code"},
	)

	generateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snowflake_generate_duration_seconds",
			Help:    "Latency of a single id generation including the counter draw",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Provisioning outcomes partitioned by status
	provisionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowflake_provision_outcomes_total",
			Help: "Total number of per-entity provisioning outcomes",
		},
		[]string{"status"},
	)
)

// entityLabels bounds the entity label to the configured entities. Anything else, including names
// that would be provisioned lazily, shares one series.
type entityLabels map[string]struct{}

func newEntityLabels(entities []string) entityLabels {
	labels := make(entityLabels, len(entities))
	for _, entity := range entities {
		labels[entity] = struct{}{}
	}
	return labels
}

func (l entityLabels) label(entity string, err error) string {
	if err != nil && ErrorCode(err) == CodeInvalidEntityName {
		return invalidEntityLabel
	}
	if _, ok := l[entity]; ok {
		return entity
	}
	return otherEntityLabel
}

func observeGenerate(label string, start time.Time, err error) {
	generateDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		idsGeneratedTotal.WithLabelValues(label).Inc()
		return
	}
	generateErrorsTotal.WithLabelValues(label, ErrorCode(err)).Inc()
}

func observeProvisionReport(report *models.ProvisionReport) {
	for _, outcome := range report.Outcomes {
		provisionOutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()
	}
}
