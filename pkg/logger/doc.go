// Package logger provides the structured logging interface used across apikit.
//
// It wraps zerolog behind a small Logger interface so packages can accept a
// logger, tests can pass NewNopLogger or a capturing NewTestLogger, and the
// CLI can route everything through one configured instance.
//
// Basic Usage:
//
//	cfg := &config.LoggingConfig{Level: "info", File: "/var/log/apikit.log"}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//
//	logger.Info("sync starting")
//	logger.WithField("stream", "/v1/projects").Info("resuming from checkpoint")
//
//	// Structured fields per call
//	log := logger.GetLogger().WithField("component", "harvest")
//	log.InfoWithFields("page written", map[string]interface{}{
//	    "page":     3,
//	    "items":    50,
//	    "duration": 120 * time.Millisecond,
//	})
//
// Console output goes to stderr; command results on stdout stay machine
// readable.
package logger
