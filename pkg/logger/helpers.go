package logger

import (
	"time"
)

// LogDownload logs the outcome of one attachment download
func LogDownload(l Logger, creator, postID, file string, success, skipped bool, err error) {
	fields := map[string]interface{}{
		"creator": creator,
		"post_id": postID,
		"file":    file,
		"success": success,
	}

	entry := l.WithFields(fields)
	switch {
	case err != nil && skipped:
		entry.WithError(err).Warn("Download skipped by filter")
	case err != nil:
		entry.WithError(err).Warn("Download failed")
	case skipped:
		entry.Debug("Download skipped, file already present")
	default:
		entry.Info("Download completed")
	}
}

// LogRateLimit logs rate limiting events
func LogRateLimit(l Logger, endpoint string, wait time.Duration) {
	l.WithFields(map[string]interface{}{
		"endpoint": endpoint,
		"wait":     wait,
		"action":   "rate_limited",
	}).Warn("Rate limit reached, backing off")
}

// LogSyncProgress logs per-creator post progress
func LogSyncProgress(l Logger, creator string, processed, total int) {
	fields := map[string]interface{}{
		"creator":   creator,
		"processed": processed,
	}
	if total > 0 {
		fields["total"] = total
	}
	l.InfoWithFields("Sync progress", fields)
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, settings map[string]interface{}) {
	entry := l.WithField("component", component)
	if len(settings) > 0 {
		entry = entry.WithFields(settings)
	}
	entry.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// LogMetrics logs run totals
func LogMetrics(l Logger, operation string, metrics map[string]interface{}) {
	fields := map[string]interface{}{
		"operation": operation,
		"type":      "metrics",
	}
	for k, v := range metrics {
		fields[k] = v
	}
	l.InfoWithFields("Run metrics", fields)
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string)                                       {}
func (nopLogger) Info(string)                                        {}
func (nopLogger) Warn(string)                                        {}
func (nopLogger) Error(string)                                       {}
func (n nopLogger) WithField(string, interface{}) Logger             { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger         { return n }
func (n nopLogger) WithError(error) Logger                           { return n }
func (nopLogger) DebugWithFields(string, map[string]interface{})     {}
func (nopLogger) InfoWithFields(string, map[string]interface{})      {}
func (nopLogger) WarnWithFields(string, map[string]interface{})      {}
func (nopLogger) ErrorWithFields(string, map[string]interface{})     {}
