package domain

import "time"

// SessionTTL is the fixed validity window of every verification session.
const SessionTTL = 5 * time.Minute

// VerificationSession is a single flash-call verification attempt.
// PK: session_id. The DynamoDB store writes CreatedAt itself as Unix
// nanoseconds; expires_at (Unix seconds) is only for DynamoDB TTL and expiry
// decisions are always made from CreatedAt.
type VerificationSession struct {
	SessionID   string    `json:"session_id" dynamodbav:"session_id"`
	PhoneNumber string    `json:"phone_number" dynamodbav:"phone_number"`
	Code        string    `json:"code" dynamodbav:"code"`
	CallerID    string    `json:"caller_id" dynamodbav:"caller_id"`
	CreatedAt   time.Time `json:"created_at" dynamodbav:"-"`
	Verified    bool      `json:"verified" dynamodbav:"verified"`
	Attempts    int       `json:"attempts" dynamodbav:"attempts"`
}

// ExpiresAt returns the instant after which the session can no longer be verified.
func (s *VerificationSession) ExpiresAt(ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

// IsExpired reports whether the session's age strictly exceeds ttl at now.
func (s *VerificationSession) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}
