package httpapi

import (
	"math/big"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validationsOnce sync.Once

// registerValidations installs custom rules on Gin's validator engine.
func registerValidations() {
	validationsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("minorunit", minorUnit)
	})
}

// minorUnit accepts a positive integer minor-unit amount encoded as a
// decimal string. Floats, signs-only, and empty strings all fail.
func minorUnit(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return false
	}
	return amount.Sign() > 0
}
