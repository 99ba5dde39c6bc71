package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"roomsync/internal/credential"
	"roomsync/internal/httputil"
)

const (
	// MsgConnectivity is shown when the issuer could not be reached at all.
	MsgConnectivity = "Failed to connect"
	// MsgNoToken is used when the issuer answered without a usable token.
	MsgNoToken = "Failed to get token"
)

// CredentialError is a failed credential request. Message is what the user
// sees: the server's own error text when it sent one.
type CredentialError struct {
	Message string
	Status  int // zero when no response was received
	Err     error
}

func (e *CredentialError) Error() string { return e.Message }

func (e *CredentialError) Unwrap() error { return e.Err }

// TokenIssuer exchanges a session name and identity for a media credential.
type TokenIssuer interface {
	IssueToken(ctx context.Context, sessionName, identity string) (string, error)
}

// TokenClient is the HTTP TokenIssuer: POST {base}/token.
type TokenClient struct {
	baseURL string
	http    *http.Client
	creds   credential.Source
	limiter *rate.Limiter
}

type TokenClientOption func(*TokenClient)

func WithHTTPClient(h *http.Client) TokenClientOption {
	return func(c *TokenClient) { c.http = h }
}

func WithTokenCredentials(src credential.Source) TokenClientOption {
	return func(c *TokenClient) { c.creds = src }
}

// WithRateLimit overrides the default of 2 requests per second, burst 2.
func WithRateLimit(l *rate.Limiter) TokenClientOption {
	return func(c *TokenClient) { c.limiter = l }
}

func NewTokenClient(baseURL string, opts ...TokenClientOption) (*TokenClient, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if err := httputil.ValidateBaseURL(baseURL); err != nil {
		return nil, err
	}
	c := &TokenClient{
		baseURL: baseURL,
		http:    httputil.NewClientWithTimeout(httputil.DefaultTimeout),
		creds:   credential.None(),
		limiter: rate.NewLimiter(2, 2),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type tokenRequest struct {
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// IssueToken always fails with a *CredentialError.
func (c *TokenClient) IssueToken(ctx context.Context, sessionName, identity string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &CredentialError{Message: MsgConnectivity, Err: fmt.Errorf("rate limit: %w", err)}
	}

	payload, err := json.Marshal(tokenRequest{RoomName: sessionName, ParticipantName: identity})
	if err != nil {
		return "", &CredentialError{Message: MsgNoToken, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", bytes.NewReader(payload))
	if err != nil {
		return "", &CredentialError{Message: MsgConnectivity, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if token, err := credential.Resolve(ctx, c.creds); err == nil {
		httputil.SetBearer(req, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &CredentialError{Message: MsgConnectivity, Err: fmt.Errorf("connection failed: %w", err)}
	}
	defer httputil.DrainBody(resp)

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return "", &CredentialError{Message: MsgConnectivity, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &CredentialError{
			Message: failureMessage(resp.StatusCode, body),
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, httputil.Truncate(body, 200)),
		}
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &CredentialError{Message: MsgNoToken, Status: resp.StatusCode, Err: fmt.Errorf("parsing token response: %w", err)}
	}
	if out.Token == "" {
		return "", &CredentialError{Message: MsgNoToken, Status: resp.StatusCode, Err: errors.New("empty token in response")}
	}
	return out.Token, nil
}

// failureMessage picks the user-facing text for a non-2xx answer: the
// server's "error" field, a generic message for other JSON bodies, and the
// status line when the body is not JSON at all.
func failureMessage(status int, body []byte) string {
	if msg, ok := httputil.ErrorMessage(body); ok {
		return msg
	}
	if json.Valid(body) {
		return MsgNoToken
	}
	return httputil.StatusMessage(status)
}
