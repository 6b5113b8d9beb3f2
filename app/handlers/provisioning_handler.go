package handlers

import (
	"log"
	"time"

	"github.com/amirphl/snowflake-id/app/dto"
	"github.com/amirphl/snowflake-id/app/middleware"
	businessflow "github.com/amirphl/snowflake-id/business_flow"
	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// provisioning touches every entity; give it more room than a single draw
const provisionRequestTimeout = 2 * time.Minute

// ProvisioningHandlerInterface defines the contract for provisioning handlers
type ProvisioningHandlerInterface interface {
	Provision(c fiber.Ctx) error
	Ready(c fiber.Ctx) error
}

// ProvisioningHandler implements ProvisioningHandlerInterface
type ProvisioningHandler struct {
	flow      businessflow.ProvisioningFlow
	entities  []string
	backend   string
	validator *validator.Validate
}

// NewProvisioningHandler creates a handler; entities is the configured default set
func NewProvisioningHandler(flow businessflow.ProvisioningFlow, entities []string, backend string) ProvisioningHandlerInterface {
	return &ProvisioningHandler{
		flow:      flow,
		entities:  entities,
		backend:   backend,
		validator: utils.NewValidator(),
	}
}

// Provision ensures counters exist for the requested (or configured) entities.
// Per-entity failures are reported in the body; the request itself succeeds.
// @Summary Admin Provision Counters
// @Description Ensures a counter exists for each entity; defaults to the configured entities
// @Tags Admin Provisioning
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer admin access token"
// @Param body body dto.ProvisionRequest false "Entities to provision"
// @Success 200 {object} dto.APIResponse{data=dto.ProvisionResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 401 {object} dto.APIResponse
// @Router /api/v1/admin/provision [post]
func (h *ProvisioningHandler) Provision(c fiber.Ctx) error {
	var req dto.ProvisionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors(err))
	}

	entities := req.Entities
	if len(entities) == 0 {
		entities = h.entities
	}

	ctx, cancel := createRequestContext(c, "/api/v1/admin/provision", provisionRequestTimeout)
	defer cancel()

	adminID, _ := middleware.GetAdminIDFromContext(c)
	tokenID := ""
	if claims, ok := middleware.GetTokenClaimsFromContext(c); ok {
		tokenID = claims.TokenID
	}
	report := h.flow.EnsureAll(ctx, entities)
	log.Printf("Provisioning run %s requested by admin %d (token %s): %d entities", report.RunID, adminID, tokenID, len(report.Entities))

	return SuccessResponse(c, fiber.StatusOK, "Provisioning finished", toProvisionResponse(report))
}

// Ready reports whether counter storage is reachable
// @Summary Readiness
// @Tags Health
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.ReadinessResponse}
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/ready [get]
func (h *ProvisioningHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/ready", 5*time.Second)
	defer cancel()

	if err := h.flow.Ready(ctx); err != nil {
		return ErrorResponse(c, fiber.StatusServiceUnavailable, "Counter storage is unavailable", businessflow.CodeStorageUnavailable, err.Error())
	}
	return SuccessResponse(c, fiber.StatusOK, "Service is ready", dto.ReadinessResponse{
		Status:  "ready",
		Backend: h.backend,
	})
}

func toProvisionResponse(report *models.ProvisionReport) dto.ProvisionResponse {
	resp := dto.ProvisionResponse{
		RunID:      report.RunID,
		Backend:    report.Backend,
		StartedAt:  report.StartedAt.Format(time.RFC3339Nano),
		FinishedAt: report.FinishedAt.Format(time.RFC3339Nano),
		Counts:     make(map[string]int),
		Outcomes:   make([]dto.ProvisionOutcomeDTO, 0, len(report.Entities)),
	}
	for status, n := range report.Counts() {
		resp.Counts[string(status)] = n
	}
	for _, entity := range report.Entities {
		o := report.Outcomes[entity]
		resp.Outcomes = append(resp.Outcomes, dto.ProvisionOutcomeDTO{
			Entity:  o.Entity,
			Counter: o.Counter,
			Status:  string(o.Status),
			Reason:  o.Reason,
		})
	}
	return resp
}
