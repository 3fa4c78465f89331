package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Stores and services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrExpired          = errors.New("expired")
	ErrCodeMismatch     = errors.New("code mismatch")
	ErrAttemptsExceeded = errors.New("attempts exceeded")
	ErrValidation       = errors.New("validation failed")
	ErrInitiationFailed = errors.New("initiation failed")
)
