// Package config loads, validates, and assembles the resilience layer's
// configuration.
//
// It uses Viper to layer a YAML file with environment variables and godotenv
// to pick up .env files. Environment variables override file values using
// the service-name prefix with underscore-separated paths, so for service
// "llmgate" the variable LLMGATE_ROUTER_RETRY_MAX_ATTEMPTS overrides
// router.retry.max_attempts.
//
// # Usage
//
//	settings, err := config.Load("llmgate")
//	if err != nil {
//		return err
//	}
//	r, cleanup, err := config.Build(ctx, settings)
//	if err != nil {
//		return err
//	}
//	defer cleanup(context.Background())
//
// Provider credentials never appear in configuration files; each cloud
// provider entry names the environment variable holding its key and Build
// reads it at assembly time.
package config
