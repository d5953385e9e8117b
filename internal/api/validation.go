package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FormatValidationErrors converts validation errors to a field -> message map.
func FormatValidationErrors(err error) map[string]string {
	out := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return out
	}
	for _, e := range validationErrs {
		field := lowerFirst(e.Field())
		switch e.Tag() {
		case "required":
			out[field] = fmt.Sprintf("%s is required", field)
		case "min":
			out[field] = fmt.Sprintf("%s must be at least %s", field, e.Param())
		case "max":
			out[field] = fmt.Sprintf("%s must be at most %s", field, e.Param())
		case "gte":
			out[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, e.Param())
		case "lte":
			out[field] = fmt.Sprintf("%s must be less than or equal to %s", field, e.Param())
		case "oneof":
			out[field] = fmt.Sprintf("%s must be one of: %s", field, e.Param())
		case "len":
			out[field] = fmt.Sprintf("%s must have exactly %s items", field, e.Param())
		default:
			out[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
