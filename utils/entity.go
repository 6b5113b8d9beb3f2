package utils

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEntityName is returned for names that cannot name a counter
var ErrInvalidEntityName = errors.New("invalid entity name")

// EntityNameTag is the validator tag registered by RegisterEntityNameValidation
const EntityNameTag = "entity_name"

var (
	entityNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	entityValidator   = NewValidator()
)

// NewValidator returns a validator with the entity_name rule registered
func NewValidator() *validator.Validate {
	v := validator.New()
	RegisterEntityNameValidation(v)
	return v
}

// RegisterEntityNameValidation adds the entity_name tag to v
func RegisterEntityNameValidation(v *validator.Validate) {
	_ = v.RegisterValidation(EntityNameTag, func(fl validator.FieldLevel) bool {
		return entityNamePattern.MatchString(fl.Field().String())
	})
}

// ValidateEntityName checks that name is a plain SQL identifier short enough to carry the counter suffix
func ValidateEntityName(name, suffix string) error {
	maxLen := MaxIdentifierLength - len(suffix)
	if err := entityValidator.Var(name, fmt.Sprintf("required,max=%d,%s", maxLen, EntityNameTag)); err != nil {
		return fmt.Errorf("%w %q: must match %s and be at most %d characters", ErrInvalidEntityName, name, entityNamePattern.String(), maxLen)
	}
	return nil
}

// CounterName derives the counter name for an entity (orders -> orders_id_seq)
func CounterName(entity, suffix string) string {
	return entity + suffix
}
