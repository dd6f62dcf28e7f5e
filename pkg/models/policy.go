package models

import "time"

// Allowlist methods. MethodAny matches every method.
const (
	MethodCall      = "CALL"
	MethodSubscribe = "SUBSCRIBE"
	MethodAny       = "*"
)

// AllowlistEntry grants a method on every resource matching the glob.
type AllowlistEntry struct {
	Method   string `json:"method"`
	Resource string `json:"resource"`
}

// AuditEntry records a single authentication or session event.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"` // "session.added", "session.removed", "login"
	SessionID string         `json:"session_id"`
	Origin    string         `json:"origin"`
	Username  string         `json:"username"`
	Method    string         `json:"method"`
	Success   bool           `json:"success"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
