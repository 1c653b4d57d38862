// Package schema validates outgoing events and loaded configuration records
// against their struct tags.
package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks v against its `validate` tags.
func (v *Validator) Validate(event any) error {
	if err := v.validate.Struct(event); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
