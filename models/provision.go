package models

import "time"

// ProvisionStatus is the result of ensuring a counter exists for one entity
type ProvisionStatus string

const (
	ProvisionCreated       ProvisionStatus = "created"
	ProvisionAlreadyExists ProvisionStatus = "already_exists"
	ProvisionSkipped       ProvisionStatus = "skipped"
	ProvisionFailed        ProvisionStatus = "failed"
)

// ProvisionOutcome records what happened to a single entity counter
type ProvisionOutcome struct {
	Entity  string          `json:"entity"`
	Counter string          `json:"counter,omitempty"`
	Status  ProvisionStatus `json:"status"`
	Reason  string          `json:"reason,omitempty"`
	Err     error           `json:"-"`
}

// Ok reports whether the counter is known to exist after the call
func (o ProvisionOutcome) Ok() bool {
	return o.Status == ProvisionCreated || o.Status == ProvisionAlreadyExists
}

// NewCreatedOutcome creates a created outcome
func NewCreatedOutcome(entity, counter string) ProvisionOutcome {
	return ProvisionOutcome{Entity: entity, Counter: counter, Status: ProvisionCreated}
}

// NewAlreadyExistsOutcome creates an already-exists outcome
func NewAlreadyExistsOutcome(entity, counter string) ProvisionOutcome {
	return ProvisionOutcome{Entity: entity, Counter: counter, Status: ProvisionAlreadyExists}
}

// NewFailedOutcome creates a failed outcome carrying the underlying error
func NewFailedOutcome(entity, counter string, err error) ProvisionOutcome {
	o := ProvisionOutcome{Entity: entity, Counter: counter, Status: ProvisionFailed, Err: err}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

// NewSkippedOutcome creates a skipped outcome
func NewSkippedOutcome(entity, reason string) ProvisionOutcome {
	return ProvisionOutcome{Entity: entity, Status: ProvisionSkipped, Reason: reason}
}

// ProvisionReport is the result of one provisioning run over a set of entities
type ProvisionReport struct {
	RunID      string                      `json:"run_id"`
	Backend    string                      `json:"backend,omitempty"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt time.Time                   `json:"finished_at"`
	Entities   []string                    `json:"entities"`
	Outcomes   map[string]ProvisionOutcome `json:"outcomes"`
}

// Count returns how many entities ended with the given status
func (r *ProvisionReport) Count(status ProvisionStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Counts returns the number of entities per status
func (r *ProvisionReport) Counts() map[ProvisionStatus]int {
	counts := make(map[ProvisionStatus]int, 4)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Status returns the outcome status of entity, or "" when it was not part of the run
func (r *ProvisionReport) Status(entity string) ProvisionStatus {
	return r.Outcomes[entity].Status
}
