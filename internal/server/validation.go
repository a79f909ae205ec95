package server

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const maxSessionCodeLength = 32

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("sessioncode", func(fl validator.FieldLevel) bool {
			return validSessionCode(fl.Field().String())
		})
	})
}

// validSessionCode matches the document ids the sync handshake accepts.
func validSessionCode(code string) bool {
	if code == "" || len(code) > maxSessionCodeLength {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
