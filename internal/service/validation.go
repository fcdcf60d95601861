package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"sahtee-exposure/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationErrors field -> failed tag
func ValidationErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, ve := range verrs {
			out[ve.Field()] = ve.Tag()
		}
	}
	return out
}

// validateStruct runs the struct tags and wraps failures in ErrValidation.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	fields := ValidationErrors(err)
	if len(fields) == 0 {
		return fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}
	parts := make([]string, 0, len(fields))
	for f, tag := range fields {
		parts = append(parts, f+" failed "+tag)
	}
	sort.Strings(parts)
	return fmt.Errorf("%s: %w", strings.Join(parts, ", "), domain.ErrValidation)
}
