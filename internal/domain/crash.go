package domain

import "time"

// CrashType enumerates fatal process-level events.
type CrashType string

const (
	CrashUnhandledRejection CrashType = "unhandled_rejection"
	CrashUncaughtException  CrashType = "uncaught_exception"
	CrashDatabaseFailure    CrashType = "database_failure"
	CrashWebSocketFailure   CrashType = "websocket_failure"
	CrashProcessExit        CrashType = "process_exit"
	CrashMemoryLeak         CrashType = "memory_leak"
	CrashTimeout            CrashType = "timeout"
	CrashUnknown            CrashType = "unknown"
)

// Severity grades a crash.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// CrashContext snapshots process state at crash time.
type CrashContext struct {
	LastRoute   string `json:"last_route,omitempty"`
	LastAPICall string `json:"last_api_call,omitempty"`
	ActiveUsers int    `json:"active_users"`
}

// CrashRecord captures a fatal event. Recovered is the only field ever set
// after creation, through the repository's mark-recovered transition.
type CrashRecord struct {
	ID               string            `json:"id"`
	Timestamp        time.Time         `json:"timestamp"`
	CrashType        CrashType         `json:"crash_type"`
	Component        Component         `json:"component"`
	Severity         Severity          `json:"severity"`
	ErrorMessage     string            `json:"error_message"`
	ErrorStack       string            `json:"error_stack,omitempty"`
	ErrorCode        string            `json:"error_code,omitempty"`
	Context          CrashContext      `json:"context"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Recovered        bool              `json:"recovered"`
	RecoveredAt      *time.Time        `json:"recovered_at,omitempty"`
	RecoveryMethod   string            `json:"recovery_method,omitempty"`
	AffectedSessions int               `json:"affected_sessions"`
}

// Kind reports the record discriminant.
func (r CrashRecord) Kind() RecordKind { return KindCrash }

// RecordedAt reports the creation timestamp.
func (r CrashRecord) RecordedAt() time.Time { return r.Timestamp }
