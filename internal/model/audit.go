package model

import "time"

// Audit event names.
const (
	AuditRoleChange         = "role_change"
	AuditAccountActivated   = "account_activated"
	AuditAccountDeactivated = "account_deactivated"
)

// AuditEvent is one `audit_log` row.  UserID is the account acted upon;
// Details carries event specific fields such as changed_by.
type AuditEvent struct {
	ID        string
	UserID    *string
	Event     string
	IPAddress *string
	UserAgent *string
	Details   map[string]any
	CreatedAt time.Time
}
