package dto

// GenerateIDsRequest is the optional body of POST /api/v1/entities/:entity/ids
type GenerateIDsRequest struct {
	Count int `json:"count" validate:"omitempty,min=1,max=1000"`
}

// GenerateIDsResponse carries the new ids both as numbers and as decimal strings,
// since JSON clients without 64-bit integers lose precision above 2^53
type GenerateIDsResponse struct {
	Entity    string   `json:"entity"`
	IDs       []int64  `json:"ids"`
	IDStrings []string `json:"id_strings"`
}

// DecodeIDResponse describes the parts of an id
type DecodeIDResponse struct {
	ID         int64  `json:"id"`
	IDString   string `json:"id_string"`
	Timestamp  string `json:"timestamp"`
	UnixMillis int64  `json:"unix_millis"`
	ElapsedMs  int64  `json:"elapsed_ms"`
	Sequence   int64  `json:"sequence"`
	Epoch      string `json:"epoch"`
}

// ProvisionRequest is the optional body of POST /api/v1/admin/provision
type ProvisionRequest struct {
	Entities []string `json:"entities" validate:"omitempty,max=1000,dive,required,entity_name"`
}

// ProvisionOutcomeDTO is one entity's result in a provisioning run
type ProvisionOutcomeDTO struct {
	Entity  string `json:"entity"`
	Counter string `json:"counter,omitempty"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// ProvisionResponse summarizes a provisioning run
type ProvisionResponse struct {
	RunID      string                `json:"run_id"`
	Backend    string                `json:"backend,omitempty"`
	StartedAt  string                `json:"started_at"`
	FinishedAt string                `json:"finished_at"`
	Counts     map[string]int        `json:"counts"`
	Outcomes   []ProvisionOutcomeDTO `json:"outcomes"`
}

// ReadinessResponse reports whether counter storage can serve requests
type ReadinessResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
}
