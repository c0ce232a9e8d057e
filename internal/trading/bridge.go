package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBridgeConnection is returned when the bridge cannot be reached or its
// response cannot be read.
var ErrBridgeConnection = errors.New("trading bridge connection failed")

// ErrSessionGone is matched by bridge errors for sessions the bridge no longer holds.
var ErrSessionGone = errors.New("trading bridge session not found")

// BridgeError is a non-2xx response from the trading bridge.
type BridgeError struct {
	StatusCode int
	Message    string
}

func (e *BridgeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("trading bridge error (status %d)", e.StatusCode)
	}
	return e.Message
}

// Is maps 404 responses onto ErrSessionGone.
func (e *BridgeError) Is(target error) bool {
	return target == ErrSessionGone && e.StatusCode == http.StatusNotFound
}

// BridgeClient talks to the HTTP sidecar that fronts the IQ Option API.
type BridgeClient struct {
	baseURL    string
	httpClient *http.Client
}

// BridgeOption configures a BridgeClient.
type BridgeOption func(*BridgeClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) BridgeOption {
	return func(c *BridgeClient) {
		c.httpClient = client
	}
}

// NewBridgeClient creates a client for the bridge at baseURL.
func NewBridgeClient(baseURL string, opts ...BridgeOption) *BridgeClient {
	c := &BridgeClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *BridgeClient) doRequest(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode bridge request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeConnection, err)
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &BridgeError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode bridge response: %w", err)
	}
	return nil
}

// BridgeVerifier authenticates by opening a session on the bridge.
type BridgeVerifier struct {
	client *BridgeClient
}

// NewBridgeVerifier creates a verifier backed by client.
func NewBridgeVerifier(client *BridgeClient) *BridgeVerifier {
	return &BridgeVerifier{client: client}
}

// Authenticate opens a platform session. A rejected login is reported as an
// unsuccessful Result; only transport failures return an error.
func (v *BridgeVerifier) Authenticate(ctx context.Context, identifier, secret string) (Result, error) {
	req := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{identifier, secret}

	var resp struct {
		Success   bool   `json:"success"`
		Reason    string `json:"reason"`
		SessionID string `json:"session_id"`
	}
	if err := v.client.doRequest(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return Result{}, err
	}

	if !resp.Success {
		if resp.SessionID != "" {
			// Close any half-open session left behind by the rejected login.
			_ = v.client.doRequest(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(resp.SessionID), nil, nil)
		}
		return Result{Success: false, Reason: resp.Reason}, nil
	}
	if resp.SessionID == "" {
		return Result{}, errors.New("trading bridge accepted login without a session id")
	}

	return Result{
		Success: true,
		Reason:  resp.Reason,
		Handle:  &BridgeHandle{client: v.client, id: resp.SessionID},
	}, nil
}

// BridgeHandle is a platform session held open by the bridge.
type BridgeHandle struct {
	client *BridgeClient
	id     string
}

// ID returns the bridge session identifier.
func (h *BridgeHandle) ID() string {
	return h.id
}

func (h *BridgeHandle) path(suffix string) string {
	return "/sessions/" + url.PathEscape(h.id) + suffix
}

// GetBalance returns the current account balance.
func (h *BridgeHandle) GetBalance(ctx context.Context) (float64, error) {
	var resp struct {
		Balance *float64 `json:"balance"`
	}
	if err := h.client.doRequest(ctx, http.MethodGet, h.path("/balance"), nil, &resp); err != nil {
		return 0, err
	}
	if resp.Balance == nil {
		return 0, ErrNoResult
	}
	return *resp.Balance, nil
}

// ResetPracticeBalance resets the practice account and returns the platform status.
func (h *BridgeHandle) ResetPracticeBalance(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := h.client.doRequest(ctx, http.MethodPost, h.path("/practice-balance/reset"), nil, &resp); err != nil {
		return "", err
	}
	if resp.Status == "" {
		return "", ErrNoResult
	}
	return resp.Status, nil
}

// Close ends the bridge session. Closing a session the bridge already dropped
// is not an error.
func (h *BridgeHandle) Close(ctx context.Context) error {
	err := h.client.doRequest(ctx, http.MethodDelete, h.path(""), nil, nil)
	if errors.Is(err, ErrSessionGone) {
		return nil
	}
	return err
}

var (
	_ Verifier = (*BridgeVerifier)(nil)
	_ Handle   = (*BridgeHandle)(nil)
	_ Closer   = (*BridgeHandle)(nil)
)
