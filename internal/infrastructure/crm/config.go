package crm

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ordersync/backend/internal/infrastructure/config"
)

// Config holds the contact API client settings
type Config struct {
	BaseURL   string        `validate:"required,url"`
	APIKey    string        `validate:"required"`
	Channel   string        `validate:"required"`
	Timeout   time.Duration `validate:"gte=0"`
	RateLimit float64       `validate:"gte=0"`
	Burst     int           `validate:"gte=0"`
}

// ConfigFrom converts the application CRM settings
func ConfigFrom(cfg config.CRMConfig) *Config {
	return &Config{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Channel:   cfg.Channel,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("crm: invalid config field %s (%s)", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("crm: invalid config: %w", err)
	}
	return nil
}
