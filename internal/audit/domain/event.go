// Package domain defines the structured audit event.
package domain

import "time"

// Action names the audited session-lifecycle transitions.
const (
	ActionSessionCreated   = "session_created"
	ActionSessionRotated   = "session_rotated"
	ActionSessionRevoked   = "session_revoked"
	ActionReuseDetected    = "reuse_detected"
	ActionLockoutTriggered = "lockout_triggered"
	ActionLoginDenied      = "login_denied"
)

// Event is one structured audit record. The full reason lives here and in the
// durable log only; clients see a generic message.
type Event struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	IdentityID string    `json:"identity_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Device     string    `json:"device,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Metadata   string    `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
