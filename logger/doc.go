// Package logger provides structured logging for the discovery agent using
// zerolog.
//
// It supports JSON and console output, level configuration and
// component-scoped loggers carrying structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("heartbeat")
//	log.Info("heartbeat sent", logger.Fields(logger.FieldCheckID, "service:orders-1"))
package logger
