// Package logging provides structured logging for PDM Core.
//
// It wraps log/slog so every entry carries the service and version fields.
// Components get a child logger tagged with their name:
//
//	logger := logging.New(cfg.Logging, version)
//	c.SetLogger(logger.Component("core"))
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Nothing on the control passes logs per tick; trips, latches and safe
// state entries are logged once per transition.
package logging
