package handler

import (
	"github.com/go-playground/validator/v10"

	"github.com/marbeck/plansync/internal/domain"
)

// Validator adapts go-playground/validator to echo's Validator interface.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a request validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks struct tags and converts failures into domain EINVALID
// errors so the error response mapping applies uniformly.
func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return domain.WrapError(err, domain.EINVALID, "handler.validate", "Invalid request payload")
	}
	return nil
}
