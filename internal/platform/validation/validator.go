package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type defaultValidator struct{ v *validator.Validate }

func (d *defaultValidator) Validate(i interface{}) error {
	if err := d.v.Struct(i); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			return fmt.Errorf("%s", describe(errs))
		}
		return err
	}
	return nil
}

func describe(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// New returns an echo.Validator implementation.
func New() echo.Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &defaultValidator{v: v}
}
