package model

import "time"

// AuditEventType enumerates recorded audit event types.
type AuditEventType string

const (
	// AuditEventTabChange is recorded when the app leaves the foreground
	// during an exam (suspected cheating).
	AuditEventTabChange AuditEventType = "Tab Change"
	AuditEventLogin     AuditEventType = "Login"
)

// AuditEvent is a best-effort log entry. Recording is fire-and-forget:
// failures never block the operation that produced the event.
type AuditEvent struct {
	ID          int64          `json:"id"`
	StudentID   int            `json:"student_id"`
	StudentName string         `json:"student_name"`
	EventType   AuditEventType `json:"event_type"`
	Details     string         `json:"details"`
	RecordedAt  time.Time      `json:"recorded_at"`
}
