package audit

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sqlgate/sqlgate/pkg/models"
)

// setupTestLogger creates a test logger with an observer to capture log entries.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, recorded := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	return logger, recorded
}

func TestNewSecurityAuditor(t *testing.T) {
	logger, _ := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	assert.NotNil(t, auditor)
	assert.NotNil(t, auditor.logger)
}

func TestLogInjectionAttempt(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	recordID := uuid.New()
	details := InjectionDetails{
		Question:    "show customers",
		Literal:     "'; DROP TABLE users--",
		Fingerprint: "s&1c",
	}

	auditor.LogInjectionAttempt(recordID, details, "192.168.1.100")

	entries := recorded.All()
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "SQL injection attempt detected", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, recordID.String(), fields["record_id"])
	assert.Equal(t, "s&1c", fields["fingerprint"])
	assert.Equal(t, "192.168.1.100", fields["client_ip"])
	assert.Equal(t, "critical", fields["severity"])

	// The embedded JSON must round-trip for SIEM ingestion.
	var event SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	assert.Equal(t, EventSQLInjectionAttempt, event.EventType)
	assert.Equal(t, recordID, event.RecordID)
}

func TestLogQueryRejected(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	recordID := uuid.New()
	auditor.LogQueryRejected(recordID, RejectionDetails{
		Question: "delete old orders",
		Reason:   models.ReasonForbiddenStatement,
		Message:  "forbidden statement: delete",
	}, "10.0.0.5")

	entries := recorded.All()
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, string(models.ReasonForbiddenStatement), fields["reason"])
	assert.Equal(t, "warning", fields["severity"])
}

func TestLogCacheCleared(t *testing.T) {
	logger, recorded := setupTestLogger(t)
	auditor := NewSecurityAuditor(logger)

	auditor.LogCacheCleared(17, "10.0.0.5")

	entries := recorded.All()
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, int64(17), fields["entries_dropped"])
	assert.Equal(t, "info", fields["severity"])
}
