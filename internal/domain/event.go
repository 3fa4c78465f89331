package domain

import "time"

// Verification event types published to downstream consumers.
const (
	EventPhoneVerified    = "phone.verified"
	EventSessionExpired   = "phone.verification_expired"
	EventAttemptsExceeded = "phone.verification_attempts_exceeded"
)

// VerificationEvent describes a terminal transition of a verification session.
type VerificationEvent struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id"`
	PhoneNumber string    `json:"phone_number"`
	OccurredAt  time.Time `json:"occurred_at"`
}
