package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/boddenberg/pj-gateway-go/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// requestValidator checks the shape of request bodies. Business rules
// stay in the domain; this only rejects what can never be valid.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("decimal_amount", validateDecimalAmount)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &requestValidator{validate: v}
}

// validateDecimalAmount accepts decimal strings such as "50" or "1234.56".
func validateDecimalAmount(fl validator.FieldLevel) bool {
	_, err := decimal.NewFromString(fl.Field().String())
	return err == nil
}

// Struct validates s and reports the first failing field as
// *domain.ErrValidation.
func (v *requestValidator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ErrValidation{Field: "body", Message: err.Error()}
	}
	fe := fieldErrs[0]
	return &domain.ErrValidation{Field: fe.Field(), Message: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return fmt.Sprintf("is required when %s is absent", fe.Param())
	case "excluded_with":
		return fmt.Sprintf("cannot be combined with %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "decimal_amount":
		return "must be a decimal amount"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
