package handlers

import (
	"hospital/services/mpesa"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the custom binding rules used by request payloads.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("ke_msisdn", func(fl validator.FieldLevel) bool {
		return mpesa.ValidPhone(fl.Field().String())
	})
}
