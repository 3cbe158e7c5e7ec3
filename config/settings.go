package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/llmgate/logger"
	"github.com/kbukum/llmgate/observability"
	"github.com/kbukum/llmgate/router"
)

// Settings is the full configuration of a resilience-layer instance:
// logging, telemetry, the router's retry policy, and the ordered provider
// list. Field order in Providers is the fallback order.
type Settings struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment" validate:"omitempty,oneof=development staging production"`

	Logging   logger.Config        `yaml:"logging" mapstructure:"logging"`
	Telemetry observability.Config `yaml:"telemetry" mapstructure:"telemetry"`

	Router    RouterSettings     `yaml:"router" mapstructure:"router"`
	Providers []ProviderSettings `yaml:"providers" mapstructure:"providers" validate:"min=1,dive"`
}

// RouterSettings configures the fallback router.
type RouterSettings struct {
	Retry       router.RetryPolicy `yaml:"retry" mapstructure:"retry"`
	HistorySize int                `yaml:"history_size" mapstructure:"history_size" validate:"omitempty,min=1"`
}

// ProviderSettings describes one provider entry. Credentials are never
// written in configuration; APIKeyEnv names the environment variable the
// key is read from at build time.
type ProviderSettings struct {
	ID   string `yaml:"id" mapstructure:"id" validate:"required"`
	Type string `yaml:"type" mapstructure:"type" validate:"required,oneof=cloud local"`

	BaseURL   string `yaml:"base_url" mapstructure:"base_url" validate:"required_if=Type cloud,omitempty,url"`
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env" validate:"required_if=Type cloud"`

	ContextWindow int               `yaml:"context_window" mapstructure:"context_window" validate:"omitempty,min=1"`
	Timeout       time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	Headers       map[string]string `yaml:"headers" mapstructure:"headers"`

	Retry     *router.RetryPolicy `yaml:"retry" mapstructure:"retry"`
	Breaker   *BreakerSettings    `yaml:"breaker" mapstructure:"breaker"`
	RateLimit *RateLimitSettings  `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// BreakerSettings enables a circuit breaker in front of the provider.
type BreakerSettings struct {
	// MaxFailures opens the circuit after this many consecutive failures.
	MaxFailures int `yaml:"max_failures" mapstructure:"max_failures" validate:"omitempty,min=1"`
	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// RateLimitSettings paces outbound attempts to the provider.
type RateLimitSettings struct {
	Rate  float64 `yaml:"rate" mapstructure:"rate" validate:"required,gt=0"`
	Burst int     `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`
}

// ApplyDefaults fills unset fields with usable values.
func (s *Settings) ApplyDefaults() {
	if s.Name == "" {
		s.Name = "llmgate"
	}
	if s.Environment == "" {
		s.Environment = "development"
	}
	s.Logging.ApplyDefaults()
	s.Telemetry.ApplyDefaults()
}

// Validate checks the settings against their struct rules plus the
// sub-config validators.
func (s *Settings) Validate() error {
	if err := structValidator().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: %w", err)
		}
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fe.Namespace()+" "+describeRule(fe))
		}
		return fmt.Errorf("config: %s", strings.Join(parts, "; "))
	}
	if err := s.Logging.Validate(); err != nil {
		return fmt.Errorf("config: logging: %w", err)
	}
	seen := make(map[string]struct{}, len(s.Providers))
	for _, p := range s.Providers {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "min":
		return "must be at least " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
