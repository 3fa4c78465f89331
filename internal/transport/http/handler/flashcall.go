package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-flashcall-auth/internal/application/flashcall"
	"github.com/go-flashcall-auth/internal/domain"
	"github.com/go-flashcall-auth/internal/pkg/validate"
	"github.com/go-flashcall-auth/internal/transport/http/middleware"
)

type InitiateRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,phone"`
	CallerID    string `json:"callerId" validate:"required,phone"`
}

type VerifyRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Code      string `json:"code" validate:"required"`
}

type VerifyCallerIDRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	CallerID  string `json:"callerId" validate:"required"`
}

// FlashCallHandler serves the /api/flash-call endpoints.
type FlashCallHandler struct {
	svc        flashcall.Service
	exposeCode bool
}

// NewFlashCallHandler builds the handler. exposeCode puts the verification
// code in the initiate response and must stay off in production.
func NewFlashCallHandler(svc flashcall.Service, exposeCode bool) *FlashCallHandler {
	return &FlashCallHandler{svc: svc, exposeCode: exposeCode}
}

func (h *FlashCallHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		httpError(w, fmt.Errorf("%w: %s", domain.ErrValidation, err.Error()))
		return
	}

	res, err := h.svc.Initiate(r.Context(), req.PhoneNumber, req.CallerID)
	if err != nil {
		httpError(w, err)
		return
	}

	out := InitiateEnvelope{
		SessionID: res.SessionID,
		Status:    res.Status,
		ExpiresAt: res.ExpiresAt.UnixMilli(),
	}
	if h.exposeCode {
		out.VerificationCode = res.VerificationCode
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *FlashCallHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, VerifyEnvelope{Error: "invalid request body"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, VerifyEnvelope{Error: err.Error()})
		return
	}

	res, err := h.svc.Verify(r.Context(), req.SessionID, req.Code)
	writeVerifyResult(w, res, err)
}

// VerifyCallerID accepts the full incoming caller ID read from the device
// call log and verifies its trailing digits.
func (h *FlashCallHandler) VerifyCallerID(w http.ResponseWriter, r *http.Request) {
	var req VerifyCallerIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, VerifyEnvelope{Error: "invalid request body"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, VerifyEnvelope{Error: err.Error()})
		return
	}

	res, err := h.svc.VerifyCallerID(r.Context(), req.SessionID, req.CallerID)
	writeVerifyResult(w, res, err)
}

func writeVerifyResult(w http.ResponseWriter, res *flashcall.VerifyResult, err error) {
	if err != nil {
		httpError(w, err)
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadRequest, VerifyEnvelope{
			Error:  res.Error,
			Reason: string(res.Outcome),
		})
		return
	}
	writeJSON(w, http.StatusOK, VerifyEnvelope{
		Success:           true,
		PhoneNumber:       res.PhoneNumber,
		Message:           res.Message,
		VerificationToken: res.VerificationToken,
	})
}

// Proof reports the identity carried by the bearer proof token.
// Mounted behind middleware.Auth.
func (h *FlashCallHandler) Proof(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var exp int64
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.UnixMilli()
	}
	writeJSON(w, http.StatusOK, ProofEnvelope{
		PhoneNumber: claims.PhoneNumber,
		SessionID:   claims.SessionID,
		ExpiresAt:   exp,
	})
}
