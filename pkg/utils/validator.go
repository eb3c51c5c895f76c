package utils

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func ValidateStruct(data interface{}) map[string]string {
	err := validate.Struct(data)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, err := range validationErrors {
			errors[err.Field()] = getErrorMessage(err)
		}
	}

	return errors
}

// converts validator errors to human-readable messages
func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "required_if":
		return "This field is required for this booking kind"
	case "min":
		return fmt.Sprintf("Minimum length is %s", err.Param())
	case "max":
		return fmt.Sprintf("Maximum length is %s", err.Param())
	case "oneof":
		options := strings.ReplaceAll(err.Param(), " ", ", ")
		return fmt.Sprintf("Must be one of: %s", options)
	case "uuid", "uuid4":
		return "Must be a valid UUID"
	default:
		return fmt.Sprintf("Invalid %s field", err.Field())
	}
}

// FormatValidationErrors flattens the map into one stable, sorted string.
func FormatValidationErrors(errors map[string]string) string {
	fields := make([]string, 0, len(errors))
	for field := range errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	msgs := make([]string, 0, len(fields))
	for _, field := range fields {
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, errors[field]))
	}
	return strings.Join(msgs, "; ")
}
