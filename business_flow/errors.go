package businessflow

import (
	"errors"
	"fmt"

	"github.com/amirphl/snowflake-id/repository"
	"github.com/amirphl/snowflake-id/utils"
)

// Business flow error constants
var (
	// Generation errors
	ErrNotProvisioned    = errors.New("entity counter is not provisioned")
	ErrClockBeforeEpoch  = errors.New("clock is before the configured epoch")
	ErrTimestampOverflow = errors.New("timestamp no longer fits in the id layout")
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidEntityName = utils.ErrInvalidEntityName

	// Storage errors
	ErrConnectivityUnavailable = errors.New("counter storage is unreachable")
	ErrUnsupportedBackend      = repository.ErrUnsupportedBackend

	// Provisioning errors
	ErrProvisioningFailed = errors.New("provisioning failed")
)

// Error codes carried by BusinessError
const (
	CodeInvalidEntityName  = "INVALID_ENTITY_NAME"
	CodeNotProvisioned     = "NOT_PROVISIONED"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeCounterDrawFailed  = "COUNTER_DRAW_FAILED"
	CodeClockBeforeEpoch   = "CLOCK_BEFORE_EPOCH"
	CodeTimestampOverflow  = "TIMESTAMP_OVERFLOW"
	CodeInvalidID          = "INVALID_ID"
	CodeProvisioningFailed = "PROVISIONING_FAILED"
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// ErrorCode returns the BusinessError code in err's chain, or "" if there is none
func ErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

func IsNotProvisioned(err error) bool {
	return errors.Is(err, ErrNotProvisioned)
}

func IsClockBeforeEpoch(err error) bool {
	return errors.Is(err, ErrClockBeforeEpoch)
}

func IsTimestampOverflow(err error) bool {
	return errors.Is(err, ErrTimestampOverflow)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsInvalidEntityName(err error) bool {
	return errors.Is(err, ErrInvalidEntityName)
}

func IsConnectivityUnavailable(err error) bool {
	return errors.Is(err, ErrConnectivityUnavailable)
}

func IsUnsupportedBackend(err error) bool {
	return errors.Is(err, ErrUnsupportedBackend)
}

func IsProvisioningFailed(err error) bool {
	return errors.Is(err, ErrProvisioningFailed)
}
