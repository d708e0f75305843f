// Package logger wraps zerolog behind a small structured Logger interface.
//
//	logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("run_id", runID)
//	log.InfoWithFields("Creator synced", map[string]interface{}{"posts": 12})
//
// Tests use NewNopLogger or NewTestLogger, which records messages for
// assertions.
package logger
