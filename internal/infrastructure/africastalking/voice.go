package africastalking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-flashcall-auth/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	SandboxVoiceURL    = "https://voice.sandbox.africastalking.com"
	ProductionVoiceURL = "https://voice.africastalking.com"

	statusQueued   = "Queued"
	maxErrorBody   = 4 << 10
	defaultTimeout = 15 * time.Second
)

// ErrCallRejected is returned when the provider answered but did not queue the call.
var ErrCallRejected = errors.New("call rejected by provider")

// VoiceURL picks the API host for an AT_ENVIRONMENT value. override wins when set.
func VoiceURL(environment, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	if strings.EqualFold(environment, "production") {
		return ProductionVoiceURL
	}
	return SandboxVoiceURL
}

type callEntry struct {
	PhoneNumber string `json:"phoneNumber"`
	Status      string `json:"status"`
	SessionID   string `json:"sessionId"`
}

type callResponse struct {
	Entries      []callEntry `json:"entries"`
	ErrorMessage string      `json:"errorMessage"`
}

// VoiceClient places outbound calls through the Africa's Talking Voice API.
type VoiceClient struct {
	baseURL  string
	username string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewVoiceClient builds a client whose transport is traced with otelhttp.
// A nil httpClient gets a default one.
func NewVoiceClient(baseURL, username, apiKey string, httpClient *http.Client, logger *zap.Logger) *VoiceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	traced := *httpClient
	traced.Transport = otelhttp.NewTransport(base)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoiceClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		apiKey:   apiKey,
		client:   &traced,
		logger:   logger,
	}
}

// Place rings `to` showing `from` as the caller ID. The call only counts as
// placed when the provider queued at least one entry.
func (c *VoiceClient) Place(ctx context.Context, to, from string) (*domain.CallResult, error) {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("from", from)
	form.Set("to", to)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice call request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("voice API returned non-2xx",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, fmt.Errorf("voice API status %d: %w", resp.StatusCode, ErrCallRejected)
	}

	var out callResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode voice response: %w", err)
	}
	if out.ErrorMessage != "" && out.ErrorMessage != "None" {
		c.logger.Warn("voice API reported an error", zap.String("error_message", out.ErrorMessage))
		return nil, fmt.Errorf("voice API error %q: %w", out.ErrorMessage, ErrCallRejected)
	}

	for _, e := range out.Entries {
		if e.Status == statusQueued {
			c.logger.Debug("flash call queued",
				zap.String("call_id", e.SessionID),
				zap.String("to", e.PhoneNumber))
			return &domain.CallResult{CallID: e.SessionID, PhoneNumber: e.PhoneNumber, Status: e.Status}, nil
		}
	}

	status := "no entries"
	if len(out.Entries) > 0 {
		status = out.Entries[0].Status
	}
	return nil, fmt.Errorf("call not queued (%s): %w", status, ErrCallRejected)
}
