package config

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("termchar", func(fl validator.FieldLevel) bool {
			_, err := ParseTermChar(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks cfg against its struct tags and the cross-field rules
// tags cannot express.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && !cfg.API.Enabled {
		return fmt.Errorf("metrics.enabled requires api.enabled: metrics are served on the API port")
	}
	return nil
}
