package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/eleven-am/medverify/internal/shared"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Validator adapts go-playground/validator to echo.Validator. Field names in
// errors follow the json or form tag.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) error {
	return v.validate.Struct(i)
}

func bindAndValidate(c echo.Context, v *Validator, req any) error {
	if err := c.Bind(req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	return validateRequest(v, req)
}

func validateRequest(v *Validator, req any) error {
	err := v.Validate(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.BadRequest("invalid_request", err.Error())
	}

	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return shared.NewAPIError("validation_failed", "request validation failed").
		WithDetails(details).
		ToHTTP(http.StatusBadRequest)
}
