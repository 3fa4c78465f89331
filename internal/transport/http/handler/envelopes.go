package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-flashcall-auth/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// InitiateEnvelope is returned by POST /initiate. ExpiresAt is Unix milliseconds.
type InitiateEnvelope struct {
	SessionID        string `json:"sessionId"`
	Status           string `json:"status"`
	VerificationCode string `json:"verificationCode,omitempty"`
	ExpiresAt        int64  `json:"expiresAt"`
}

// VerifyEnvelope is returned by the verify endpoints for both outcomes.
type VerifyEnvelope struct {
	Success           bool   `json:"success"`
	PhoneNumber       string `json:"phoneNumber,omitempty"`
	Message           string `json:"message,omitempty"`
	VerificationToken string `json:"verificationToken,omitempty"`
	Error             string `json:"error,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// ProofEnvelope echoes the verified identity carried by a proof token.
type ProofEnvelope struct {
	PhoneNumber string `json:"phoneNumber"`
	SessionID   string `json:"sessionId"`
	ExpiresAt   int64  `json:"expiresAt"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpError maps domain sentinels to status codes. Anything unrecognised is a
// 500 with a fixed message so internal details never reach the client.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInitiationFailed):
		writeError(w, http.StatusInternalServerError, "Failed to initiate flash call verification")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
