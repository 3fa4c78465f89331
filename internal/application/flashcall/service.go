package flashcall

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-flashcall-auth/internal/domain"
	"github.com/go-flashcall-auth/internal/pkg/id"
	"github.com/go-flashcall-auth/internal/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/go-flashcall-auth/internal/application/flashcall")

// StatusInitiated is reported for every session whose call the provider accepted.
const StatusInitiated = "initiated"

const defaultCallTimeout = 10 * time.Second

// Outcome is the machine-checkable category of a verification attempt.
type Outcome string

const (
	OutcomeVerified         Outcome = "verified"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeExpired          Outcome = "expired"
	OutcomeCodeMismatch     Outcome = "code_mismatch"
	OutcomeAttemptsExceeded Outcome = "attempts_exceeded"
)

var outcomeMessages = map[Outcome]string{
	OutcomeVerified:         "Phone number verified successfully",
	OutcomeNotFound:         "Invalid or expired verification session",
	OutcomeExpired:          "Verification session expired",
	OutcomeCodeMismatch:     "Invalid verification code",
	OutcomeAttemptsExceeded: "Too many failed verification attempts",
}

var outcomeErrors = map[Outcome]error{
	OutcomeNotFound:         domain.ErrNotFound,
	OutcomeExpired:          domain.ErrExpired,
	OutcomeCodeMismatch:     domain.ErrCodeMismatch,
	OutcomeAttemptsExceeded: domain.ErrAttemptsExceeded,
}

// SessionStore is the storage the service needs. Implementations must make
// every method linearizable with respect to the others.
type SessionStore interface {
	Put(ctx context.Context, s *domain.VerificationSession) error
	Get(ctx context.Context, sessionID string) (*domain.VerificationSession, error)
	TakeIfValid(ctx context.Context, sessionID string, now time.Time) (*domain.VerificationSession, error)
	RecordFailedAttempt(ctx context.Context, sessionID string, maxAttempts int) (int, error)
	Delete(ctx context.Context, sessionID string) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// CallPlacer asks the voice provider to ring `to` from the caller ID `from`.
type CallPlacer interface {
	Place(ctx context.Context, to, from string) (*domain.CallResult, error)
}

// EventPublisher fans verification events out to other services.
type EventPublisher interface {
	Publish(ctx context.Context, e domain.VerificationEvent) error
}

// ProofSigner issues a token proving that phoneNumber was verified.
type ProofSigner interface {
	Sign(phoneNumber, sessionID string) (string, error)
}

type InitiateResult struct {
	SessionID        string
	VerificationCode string
	Status           string
	CallerID         string
	CallID           string
	ExpiresAt        time.Time
}

// VerifyResult is returned for every recognised outcome. Error is the
// human-readable failure message; Outcome is the stable category.
type VerifyResult struct {
	Success           bool
	Outcome           Outcome
	PhoneNumber       string
	Message           string
	Error             string
	VerificationToken string
}

// Err maps a failed result to its domain sentinel error; nil on success.
func (r *VerifyResult) Err() error {
	if r.Success {
		return nil
	}
	return outcomeErrors[r.Outcome]
}

func succeeded(phoneNumber string) *VerifyResult {
	return &VerifyResult{
		Success:     true,
		Outcome:     OutcomeVerified,
		PhoneNumber: phoneNumber,
		Message:     outcomeMessages[OutcomeVerified],
	}
}

func failed(o Outcome) *VerifyResult {
	return &VerifyResult{Outcome: o, Error: outcomeMessages[o]}
}

type Service interface {
	Initiate(ctx context.Context, phoneNumber, callerID string) (*InitiateResult, error)
	Verify(ctx context.Context, sessionID, code string) (*VerifyResult, error)
	VerifyCallerID(ctx context.Context, sessionID, receivedCallerID string) (*VerifyResult, error)
	Cleanup(ctx context.Context) (int, error)
	RunCleanup(ctx context.Context, interval time.Duration)
}

// ServiceDeps groups the collaborators for NewService. Publisher, Signer,
// Logger and Metrics are optional.
type ServiceDeps struct {
	Store     SessionStore
	Caller    CallPlacer
	Publisher EventPublisher
	Signer    ProofSigner
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	CodeLength  int
	MaxAttempts int // 0 keeps the session live after any number of wrong codes
	CallTimeout time.Duration
	Clock       func() time.Time
}

type service struct {
	store       SessionStore
	caller      CallPlacer
	publisher   EventPublisher
	signer      ProofSigner
	logger      *zap.Logger
	metrics     *metrics.Metrics
	codeLength  int
	maxAttempts int
	callTimeout time.Duration
	clock       func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		store:       deps.Store,
		caller:      deps.Caller,
		publisher:   deps.Publisher,
		signer:      deps.Signer,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		codeLength:  deps.CodeLength,
		maxAttempts: deps.MaxAttempts,
		callTimeout: deps.CallTimeout,
		clock:       deps.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.codeLength == 0 {
		s.codeLength = DefaultCodeLength
	}
	if s.callTimeout <= 0 {
		s.callTimeout = defaultCallTimeout
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

func (s *service) Initiate(ctx context.Context, phoneNumber, callerID string) (*InitiateResult, error) {
	ctx, span := tracer.Start(ctx, "flashcall.Initiate")
	defer span.End()

	res, err := s.initiate(ctx, phoneNumber, callerID)
	switch {
	case err == nil:
		s.metrics.IncInitiation(StatusInitiated)
	case errors.Is(err, domain.ErrValidation):
		s.metrics.IncInitiation("invalid")
	default:
		s.metrics.IncInitiation("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "initiation failed")
	}
	return res, err
}

func (s *service) initiate(ctx context.Context, phoneNumber, callerID string) (*InitiateResult, error) {
	if strings.TrimSpace(phoneNumber) == "" {
		return nil, fmt.Errorf("phone number required: %w", domain.ErrValidation)
	}
	code, err := GenerateVerificationCode(s.codeLength)
	if err != nil {
		return nil, err
	}
	flashCallerID, err := EncodeCallerID(callerID, code)
	if err != nil {
		return nil, err
	}
	sessionID, err := id.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	sess := &domain.VerificationSession{
		SessionID:   sessionID,
		PhoneNumber: phoneNumber,
		Code:        code,
		CallerID:    flashCallerID,
		CreatedAt:   s.clock(),
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	call, err := s.placeCall(ctx, phoneNumber, flashCallerID)
	if err == nil && ctx.Err() != nil {
		// The caller is gone and will never learn the session id.
		err = ctx.Err()
	}
	if err != nil {
		s.rollback(ctx, sessionID)
		s.logger.Error("flash call failed",
			zap.String("session_id", sessionID),
			zap.String("caller_id", flashCallerID),
			zap.Error(err))
		return nil, fmt.Errorf("place flash call: %w: %w", domain.ErrInitiationFailed, err)
	}

	s.logger.Info("flash call initiated",
		zap.String("session_id", sessionID),
		zap.String("caller_id", flashCallerID),
		zap.String("call_id", call.CallID),
		zap.String("call_status", call.Status))

	return &InitiateResult{
		SessionID:        sessionID,
		VerificationCode: code,
		Status:           StatusInitiated,
		CallerID:         flashCallerID,
		CallID:           call.CallID,
		ExpiresAt:        sess.ExpiresAt(domain.SessionTTL),
	}, nil
}

// placeCall bounds the provider round trip. No store lock is held here.
func (s *service) placeCall(ctx context.Context, to, from string) (*domain.CallResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	start := time.Now()
	call, err := s.caller.Place(callCtx, to, from)
	s.metrics.ObserveCallLatency(time.Since(start))
	if err != nil {
		return nil, err
	}
	if call == nil {
		call = &domain.CallResult{}
	}
	return call, nil
}

func (s *service) rollback(ctx context.Context, sessionID string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), sessionID); err != nil {
		s.logger.Error("failed to roll back verification session",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *service) Verify(ctx context.Context, sessionID, code string) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "flashcall.Verify")
	defer span.End()

	res, err := s.verify(ctx, sessionID, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		return nil, err
	}
	s.metrics.IncVerification(string(res.Outcome))
	span.SetAttributes(attribute.String("flashcall.outcome", string(res.Outcome)))
	return res, nil
}

func (s *service) verify(ctx context.Context, sessionID, code string) (*VerifyResult, error) {
	now := s.clock()
	sess, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return failed(OutcomeNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if sess.IsExpired(now, domain.SessionTTL) {
		if err := s.store.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("failed to delete expired session", zap.String("session_id", sessionID), zap.Error(err))
		}
		s.publish(ctx, domain.EventSessionExpired, sess)
		return failed(OutcomeExpired), nil
	}

	if subtle.ConstantTimeCompare([]byte(sess.Code), []byte(code)) != 1 {
		return s.mismatch(ctx, sess)
	}

	taken, err := s.store.TakeIfValid(ctx, sessionID, now)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Another request consumed it first.
		return failed(OutcomeNotFound), nil
	case errors.Is(err, domain.ErrExpired):
		s.publish(ctx, domain.EventSessionExpired, sess)
		return failed(OutcomeExpired), nil
	case err != nil:
		return nil, fmt.Errorf("consume session: %w", err)
	}
	taken.Verified = true

	res := succeeded(taken.PhoneNumber)
	if s.signer != nil {
		token, err := s.signer.Sign(taken.PhoneNumber, taken.SessionID)
		if err != nil {
			s.logger.Error("failed to sign verification proof", zap.String("session_id", sessionID), zap.Error(err))
		} else {
			res.VerificationToken = token
		}
	}
	s.publish(ctx, domain.EventPhoneVerified, taken)
	s.logger.Info("phone number verified", zap.String("session_id", sessionID))
	return res, nil
}

func (s *service) mismatch(ctx context.Context, sess *domain.VerificationSession) (*VerifyResult, error) {
	if s.maxAttempts <= 0 {
		return failed(OutcomeCodeMismatch), nil
	}
	attempts, err := s.store.RecordFailedAttempt(ctx, sess.SessionID, s.maxAttempts)
	switch {
	case errors.Is(err, domain.ErrAttemptsExceeded):
		s.logger.Warn("verification attempts exhausted",
			zap.String("session_id", sess.SessionID), zap.Int("attempts", attempts))
		s.publish(ctx, domain.EventAttemptsExceeded, sess)
		return failed(OutcomeAttemptsExceeded), nil
	case errors.Is(err, domain.ErrNotFound):
		return failed(OutcomeNotFound), nil
	case err != nil:
		return nil, fmt.Errorf("record failed attempt: %w", err)
	}
	return failed(OutcomeCodeMismatch), nil
}

// VerifyCallerID runs the normal Verify flow. A caller ID too short to carry
// a code verifies with an empty code, which never matches a stored one, so
// unknown and expired sessions still report not_found and expired.
func (s *service) VerifyCallerID(ctx context.Context, sessionID, receivedCallerID string) (*VerifyResult, error) {
	code, _ := ExtractCode(receivedCallerID, s.codeLength)
	return s.Verify(ctx, sessionID, code)
}

func (s *service) publish(ctx context.Context, eventType string, sess *domain.VerificationSession) {
	if s.publisher == nil {
		return
	}
	e := domain.VerificationEvent{
		EventID:     id.New(),
		Type:        eventType,
		SessionID:   sess.SessionID,
		PhoneNumber: sess.PhoneNumber,
		OccurredAt:  s.clock().UTC(),
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish verification event",
			zap.String("type", eventType), zap.String("session_id", sess.SessionID), zap.Error(err))
	}
}

func (s *service) Cleanup(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "flashcall.Cleanup")
	defer span.End()

	n, err := s.store.SweepExpired(ctx, s.clock())
	if err != nil {
		span.RecordError(err)
		return n, fmt.Errorf("sweep expired sessions: %w", err)
	}
	s.metrics.AddSwept(n)
	span.SetAttributes(attribute.Int("flashcall.swept", n))
	if n > 0 {
		s.logger.Info("expired verification sessions removed", zap.Int("count", n))
	}
	return n, nil
}

// RunCleanup sweeps on every tick until ctx is cancelled.
func (s *service) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("cleanup failed", zap.Error(err))
			}
		}
	}
}
