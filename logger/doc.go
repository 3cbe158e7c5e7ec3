// Package logger provides structured logging for llmgate using zerolog.
//
// It supports JSON and console output, level configuration from config or
// environment, and component-scoped loggers with structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("router")
//	log.Info("attempt finished", logger.Fields(
//		logger.FieldProvider, "ollama-local",
//		logger.FieldOutcome, "success",
//	))
package logger
