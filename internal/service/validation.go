package service

import (
	"errors"
	"reflect"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateAddress reports every missing required field at once.
func validateAddress(addr models.ShippingAddress) error {
	trimmed := addr
	trimmed.FullName = strings.TrimSpace(addr.FullName)
	trimmed.Phone = strings.TrimSpace(addr.Phone)
	trimmed.AddressLine1 = strings.TrimSpace(addr.AddressLine1)
	trimmed.City = strings.TrimSpace(addr.City)
	trimmed.State = strings.TrimSpace(addr.State)
	trimmed.PostalCode = strings.TrimSpace(addr.PostalCode)
	trimmed.Country = strings.TrimSpace(addr.Country)

	err := validate.Struct(trimmed)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.IncompleteAddress, "invalid shipping address", err)
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return apperr.Newf(apperr.IncompleteAddress, "shipping address is missing: %s", strings.Join(missing, ", "))
}
