// Package domain holds the session record and its lifecycle vocabulary.
package domain

import (
	"strings"
	"time"
)

// RevocationReason records why a session stopped being valid.
type RevocationReason string

const (
	ReasonLogout           RevocationReason = "logout"
	ReasonRotated          RevocationReason = "rotated"
	ReasonReuseDetected    RevocationReason = "reuse_detected"
	ReasonConcurrentLimit  RevocationReason = "concurrent_limit"
	ReasonIdleTimeout      RevocationReason = "idle_timeout"
	ReasonCredentialChange RevocationReason = "credential_change"
	ReasonAdminRevoke      RevocationReason = "admin_revoke"
)

// Device describes the client a session was created from.
type Device struct {
	ID        string
	Type      string
	UserAgent string
	Geo       string // coarse, e.g. country or region
	IP        string
}

// Session is the durable record of one login. The family id is fixed at
// creation and survives every rotation; only the fingerprint changes.
type Session struct {
	ID         string
	IdentityID string
	FamilyID   string
	Device     Device

	// Roles is the role snapshot captured at login. Access credentials minted
	// during this session's lifetime carry this snapshot, not live role state.
	Roles []string

	// Fingerprint is the hash of the currently valid refresh credential.
	Fingerprint string
	// PrevFingerprint is the immediately prior fingerprint, kept for the
	// rotation grace window and cleared once used or superseded again.
	PrevFingerprint string
	// RotatedAt is when PrevFingerprint was superseded; nil before first rotation.
	RotatedAt *time.Time

	CreatedAt      time.Time
	LastActivityAt time.Time
	// ExpiresAt is the absolute expiry, fixed at creation. Rotation never moves it.
	ExpiresAt time.Time

	RevokedAt     *time.Time
	RevokedReason RevocationReason
	RevokedBy     string
}

// Active reports whether the session is usable at the given instant.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// IdleDeadline returns the instant at which the session idles out given the
// configured inactivity timeout.
func (s *Session) IdleDeadline(inactivity time.Duration) time.Time {
	return s.LastActivityAt.Add(inactivity)
}

// Summary is the client-visible projection of a session. The IP is masked and
// the caller's own session is flagged.
type Summary struct {
	SessionID      string    `json:"session_id"`
	DeviceType     string    `json:"device_type"`
	UserAgent      string    `json:"user_agent"`
	Geo            string    `json:"geo"`
	MaskedIP       string    `json:"ip"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Current        bool      `json:"current"`
}

// Summarize builds the client-visible view of s.
func (s *Session) Summarize(currentSessionID string) Summary {
	return Summary{
		SessionID:      s.ID,
		DeviceType:     s.Device.Type,
		UserAgent:      s.Device.UserAgent,
		Geo:            s.Device.Geo,
		MaskedIP:       MaskIP(s.Device.IP),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		Current:        s.ID == currentSessionID,
	}
}

// MaskIP hides the host part of an address: "203.0.113.7" -> "203.0.x.x",
// IPv6 keeps the first two groups. Unparseable input is fully masked.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	if strings.Contains(ip, ":") {
		groups := strings.Split(ip, ":")
		if len(groups) >= 2 {
			return groups[0] + ":" + groups[1] + "::x"
		}
		return "x"
	}
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return "x"
	}
	return octets[0] + "." + octets[1] + ".x.x"
}
