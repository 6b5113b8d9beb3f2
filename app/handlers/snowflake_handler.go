package handlers

import (
	"log"
	"strconv"
	"time"

	"github.com/amirphl/snowflake-id/app/dto"
	businessflow "github.com/amirphl/snowflake-id/business_flow"
	"github.com/amirphl/snowflake-id/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// SnowflakeHandlerInterface defines the contract for id handlers
type SnowflakeHandlerInterface interface {
	GenerateIDs(c fiber.Ctx) error
	DecodeID(c fiber.Ctx) error
}

// SnowflakeHandler implements SnowflakeHandlerInterface
type SnowflakeHandler struct {
	flow      businessflow.SnowflakeFlow
	validator *validator.Validate
}

func NewSnowflakeHandler(flow businessflow.SnowflakeFlow) SnowflakeHandlerInterface {
	return &SnowflakeHandler{
		flow:      flow,
		validator: utils.NewValidator(),
	}
}

// GenerateIDs issues one or more ids for an entity
// @Summary Generate IDs
// @Description Draws the entity's counter and returns time-ordered 64-bit ids, each also as a string
// @Tags IDs
// @Accept json
// @Produce json
// @Param entity path string true "Entity name"
// @Param body body dto.GenerateIDsRequest false "Number of ids (default 1)"
// @Success 201 {object} dto.APIResponse{data=dto.GenerateIDsResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse
// @Failure 429 {object} dto.APIResponse
// @Failure 500 {object} dto.APIResponse
// @Failure 503 {object} dto.APIResponse
// @Router /api/v1/entities/{entity}/ids [post]
func (h *SnowflakeHandler) GenerateIDs(c fiber.Ctx) error {
	entity := c.Params("entity")

	var req dto.GenerateIDsRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors(err))
	}
	if req.Count == 0 {
		req.Count = 1
	}

	ctx, cancel := createRequestContext(c, "/api/v1/entities/:entity/ids", defaultRequestTimeout)
	defer cancel()

	ids, err := h.flow.GenerateN(ctx, entity, req.Count)
	if err != nil {
		code := businessflow.ErrorCode(err)
		if code == "" {
			code = businessflow.CodeCounterDrawFailed
		}
		status := statusForCode(code)
		if status >= fiber.StatusInternalServerError {
			log.Printf("Generate ids for %q failed: %v", entity, err)
		}
		return ErrorResponse(c, status, errorMessage(code), code, err.Error())
	}

	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.FormatInt(id, 10)
	}

	return SuccessResponse(c, fiber.StatusCreated, "IDs generated", dto.GenerateIDsResponse{
		Entity:    entity,
		IDs:       ids,
		IDStrings: strs,
	})
}

// DecodeID splits an id into timestamp and sequence
// @Summary Decode ID
// @Tags IDs
// @Produce json
// @Param id path int true "ID"
// @Success 200 {object} dto.APIResponse{data=dto.DecodeIDResponse}
// @Failure 400 {object} dto.APIResponse
// @Router /api/v1/ids/{id} [get]
func (h *SnowflakeHandler) DecodeID(c fiber.Ctx) error {
	raw := c.Params("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "ID must be a base-10 64-bit integer", businessflow.CodeInvalidID, raw)
	}

	components, err := h.flow.Decompose(id)
	if err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid ID", businessflow.CodeInvalidID, err.Error())
	}

	return SuccessResponse(c, fiber.StatusOK, "ID decoded", dto.DecodeIDResponse{
		ID:         components.ID,
		IDString:   strconv.FormatInt(components.ID, 10),
		Timestamp:  components.Timestamp.Format(time.RFC3339Nano),
		UnixMillis: components.Timestamp.UnixMilli(),
		ElapsedMs:  components.ElapsedMs,
		Sequence:   components.Sequence,
		Epoch:      h.flow.Epoch().Format(time.RFC3339Nano),
	})
}

func errorMessage(code string) string {
	switch code {
	case businessflow.CodeInvalidEntityName:
		return "Invalid entity name"
	case businessflow.CodeNotProvisioned:
		return "Entity is not provisioned"
	case businessflow.CodeStorageUnavailable:
		return "Counter storage is unavailable"
	case businessflow.CodeClockBeforeEpoch:
		return "Server clock is before the id epoch"
	case businessflow.CodeTimestampOverflow:
		return "Id timestamp range exhausted"
	case businessflow.CodeProvisioningFailed:
		return "Failed to provision entity"
	default:
		return "Failed to generate id"
	}
}
