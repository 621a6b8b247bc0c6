package core

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"ngetem/internal/types"
)

// Validator wraps go-playground/validator so handlers can validate decoded
// request bodies and receive structured AppErrors in return.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with struct validation enabled. The
// builtin latitude/longitude tags cover coordinate range checks.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ValidateStruct validates the given struct against its validate tags.
// Violations are returned as a single *types.AppError whose Details map each
// failing field to the rule it broke.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Non-struct input is a programming error, not a client error.
		v.logger.Error("validator received invalid input", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(fieldErrs))
	code := types.ErrCodeValidationMissingField
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
		switch fe.Tag() {
		case "latitude":
			code = types.ErrCodeValidationInvalidLat
		case "longitude":
			code = types.ErrCodeValidationInvalidLon
		}
	}

	return types.NewAppError(code, "request validation failed", err).WithDetails(details)
}
