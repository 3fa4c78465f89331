package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-flashcall-auth/internal/application/flashcall"
	"github.com/go-flashcall-auth/internal/config"
	"github.com/go-flashcall-auth/internal/domain"
	jwtinfra "github.com/go-flashcall-auth/internal/infrastructure/jwt"
	"github.com/go-flashcall-auth/internal/infrastructure/memory"
	"github.com/go-flashcall-auth/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queuedCaller struct{ from string }

func (c *queuedCaller) Place(_ context.Context, to, from string) (*domain.CallResult, error) {
	c.from = from
	return &domain.CallResult{CallID: "ATVId_1", PhoneNumber: to, Status: "Queued"}, nil
}

type testServer struct {
	handler http.Handler
	caller  *queuedCaller
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	proofs := jwtinfra.NewProviderWithKey(key, 15*time.Minute)

	reg := prometheus.NewRegistry()
	caller := &queuedCaller{}
	svc := flashcall.NewService(flashcall.ServiceDeps{
		Store:   memory.NewSessionStore(domain.SessionTTL),
		Caller:  caller,
		Signer:  proofs,
		Metrics: metrics.New(reg),
	})
	h := NewRouter(ctx, cfg, &Deps{FlashCall: svc, ProofVerifier: proofs, Gatherer: reg})
	return &testServer{handler: h, caller: caller}
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins: []string{"*"},
		ExposeCode:     true,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr.Code, out
}

func TestRouter_FullFlow(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, body := s.do(t, http.MethodPost, "/api/flash-call/initiate",
		`{"phoneNumber":"+254700000001","callerId":"+254711000000"}`, nil)
	require.Equal(t, http.StatusOK, code)
	sessionID := body["sessionId"].(string)
	vcode := body["verificationCode"].(string)
	assert.Len(t, vcode, 4)
	assert.Equal(t, "+25471100"+vcode, s.caller.from)

	code, body = s.do(t, http.MethodPost, "/api/flash-call/verify",
		`{"sessionId":"`+sessionID+`","code":"`+vcode+`"}`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "+254700000001", body["phoneNumber"])
	token := body["verificationToken"].(string)

	code, body = s.do(t, http.MethodPost, "/api/flash-call/verify",
		`{"sessionId":"`+sessionID+`","code":"`+vcode+`"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "not_found", body["reason"])

	code, body = s.do(t, http.MethodGet, "/api/flash-call/proof", "", map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, sessionID, body["sessionId"])
}

func TestRouter_ProofRequiresToken(t *testing.T) {
	s := newTestServer(t, testConfig())
	code, _ := s.do(t, http.MethodGet, "/api/flash-call/proof", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRouter_ProofRouteAbsentWithoutVerifier(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewRouter(ctx, testConfig(), &Deps{FlashCall: flashcall.NewService(flashcall.ServiceDeps{
		Store:  memory.NewSessionStore(domain.SessionTTL),
		Caller: &queuedCaller{},
	})})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/flash-call/proof", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig())

	code, body := s.do(t, http.MethodGet, "/health-check/ping", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pong", body["message"])

	_, _ = s.do(t, http.MethodPost, "/api/flash-call/initiate",
		`{"phoneNumber":"+254700000001","callerId":"+254711000000"}`, nil)

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `flashcall_initiations_total{status="initiated"} 1`)
}

func TestRouter_RateLimitsVerify(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 2
	s := newTestServer(t, cfg)

	body := `{"sessionId":"nope","code":"0000"}`
	c1, _ := s.do(t, http.MethodPost, "/api/flash-call/verify", body, nil)
	c2, _ := s.do(t, http.MethodPost, "/api/flash-call/verify", body, nil)
	c3, _ := s.do(t, http.MethodPost, "/api/flash-call/verify", body, nil)

	assert.Equal(t, http.StatusBadRequest, c1)
	assert.Equal(t, http.StatusBadRequest, c2)
	assert.Equal(t, http.StatusTooManyRequests, c3)
}

func TestRouter_RateLimitIgnoresForwardedForByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	s := newTestServer(t, cfg)

	body := `{"sessionId":"nope","code":"0000"}`
	c1, _ := s.do(t, http.MethodPost, "/api/flash-call/verify", body, map[string]string{"X-Forwarded-For": "203.0.113.1"})
	c2, _ := s.do(t, http.MethodPost, "/api/flash-call/verify", body, map[string]string{"X-Forwarded-For": "203.0.113.2"})

	assert.Equal(t, http.StatusBadRequest, c1)
	assert.Equal(t, http.StatusTooManyRequests, c2)
}

func TestRouter_TrustedProxyKeysOnForwardedFor(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	cfg.TrustProxyHeaders = true
	s := newTestServer(t, cfg)

	body := `{"sessionId":"nope","code":"0000"}`
	c1, _ := s.do(t, http.MethodPost, "/api/flash-call/verify", body, map[string]string{"X-Forwarded-For": "203.0.113.1"})
	c2, _ := s.do(t, http.MethodPost, "/api/flash-call/verify", body, map[string]string{"X-Forwarded-For": "203.0.113.2"})
	c3, _ := s.do(t, http.MethodPost, "/api/flash-call/verify", body, map[string]string{"X-Forwarded-For": "203.0.113.1"})

	assert.Equal(t, http.StatusBadRequest, c1)
	assert.Equal(t, http.StatusBadRequest, c2)
	assert.Equal(t, http.StatusTooManyRequests, c3)
}
