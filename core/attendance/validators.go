package attendance

import (
	"github.com/go-playground/validator/v10"

	"github.com/ulasproject/ulas/core"
)

var (
	matricTag  = "matric"
	matricText = "matric number must be exactly 11 digits"
)

// register custom validators
func init() {
	_ = core.Validate.RegisterValidation(matricTag, matricValidation)
	core.RegisterCustomTranslation(matricTag, matricText)
}

// matricValidation checks that a matric number is exactly 11 numeric characters.
func matricValidation(fl validator.FieldLevel) bool {
	matric := fl.Field().String()
	if len(matric) != 11 {
		return false
	}
	for _, r := range matric {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
