// Package utils holds helpers shared by the transport layer.
package utils

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/turtacn/admit/pkg/errors"
)

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields under their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateStruct checks s against its `validate` tags.
func ValidateStruct(s interface{}) error {
	if err := defaultValidator.Struct(s); err != nil {
		return ValidationError(err)
	}
	return nil
}

// ValidationError turns validator failures into an invalid_request error
// with one metadata entry per offending field.
func ValidationError(err error) errors.AdmitError {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.ErrInvalidRequest(err.Error())
	}
	ae := errors.ErrInvalidRequest("request validation failed")
	for _, fe := range fieldErrs {
		ae = ae.WithMetadata(fe.Field(), formatValidationError(fe))
	}
	return ae
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "printascii":
		return "must be printable ASCII"
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}
