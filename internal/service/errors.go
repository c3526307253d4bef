package service

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var (
	// ErrValidation indicates missing or invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the caller is authenticated but not allowed to act on the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate request or an existing relationship.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates the action is not valid for the entity's current status.
	ErrInvalidState = errors.New("invalid state")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translateNotFound maps a missing record onto ErrNotFound and leaves other errors untouched.
func translateNotFound(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s not found", ErrNotFound, entity)
	}
	return err
}

// validateStruct runs struct validation and reports failures as ErrValidation.
func validateStruct(validate *validator.Validate, payload interface{}) error {
	if validate == nil {
		return nil
	}
	if err := validate.Struct(payload); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return fmt.Errorf("%w: %s", ErrValidation, validationErrs.Error())
		}
		return err
	}
	return nil
}
