// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlgate/sqlgate/pkg/models"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection detects SQL injection patterns.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventQueryRejected is logged when a generated statement fails safety validation.
	EventQueryRejected SecurityEventType = "query_rejected"
	// EventCacheCleared is logged when the query cache is cleared by an operator.
	EventCacheCleared SecurityEventType = "cache_cleared"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	RecordID  uuid.UUID         `json:"record_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a detected SQL injection attempt.
type InjectionDetails struct {
	Question    string `json:"question"`
	Literal     string `json:"literal"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// RejectionDetails contains specifics of a rejected candidate statement.
type RejectionDetails struct {
	Question string                 `json:"question"`
	Reason   models.RejectionReason `json:"reason"`
	Message  string                 `json:"message"`
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger
// namespace. The "security_audit" namespace makes filtering in SIEM systems easy.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a detected SQL injection attempt with full context.
// Logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(recordID uuid.UUID, details InjectionDetails, clientIP string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSQLInjectionAttempt,
		RecordID:  recordID,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  "critical",
	}

	// Marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("record_id", recordID.String()),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("severity", "critical"),
	)
}

// LogQueryRejected records a candidate statement that failed safety validation.
// Logged at WARN level; rejections are usually model mistakes, not attacks.
func (a *SecurityAuditor) LogQueryRejected(recordID uuid.UUID, details RejectionDetails, clientIP string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventQueryRejected,
		RecordID:  recordID,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Candidate statement rejected",
		zap.String("event_json", string(eventJSON)),
		zap.String("record_id", recordID.String()),
		zap.String("reason", string(details.Reason)),
		zap.String("client_ip", clientIP),
		zap.String("severity", "warning"),
	)
}

// LogCacheCleared records an operator-initiated cache clear.
func (a *SecurityAuditor) LogCacheCleared(entries int, clientIP string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventCacheCleared,
		ClientIP:  clientIP,
		Details: map[string]int{
			"entries_dropped": entries,
		},
		Severity: "info",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Query cache cleared",
		zap.String("event_json", string(eventJSON)),
		zap.Int("entries_dropped", entries),
		zap.String("client_ip", clientIP),
		zap.String("severity", "info"),
	)
}
