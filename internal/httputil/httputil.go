package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second
const MaxResponseBody = 2 << 20 // 2 MiB

func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// DrainBody ensures the connection can be reused for keep-alive.
func DrainBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// ReadBody reads at most MaxResponseBody bytes of the response.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// ValidateBaseURL checks that a URL is usable as an HTTP API base.
func ValidateBaseURL(rawURL string) error {
	return validateURL(rawURL, "http", "https")
}

// ValidateSocketURL checks that a URL is usable as a websocket endpoint.
func ValidateSocketURL(rawURL string) error {
	return validateURL(rawURL, "ws", "wss")
}

func validateURL(rawURL string, schemes ...string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("URL must use %s scheme", strings.Join(schemes, " or "))
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ErrorMessage extracts the "error" field of a JSON error body. It returns
// false when the body is not JSON or carries no message.
func ErrorMessage(body []byte) (string, bool) {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return "", false
	}
	return payload.Error, true
}

// StatusMessage renders "Server Error: <code> <reason>" for error responses
// that carry no usable body.
func StatusMessage(code int) string {
	return strings.TrimSpace(fmt.Sprintf("Server Error: %d %s", code, http.StatusText(code)))
}

// Truncate converts a byte slice to string and truncates to maxRunes runes,
// appending "..." if truncated.
func Truncate(b []byte, maxRunes int) string {
	r := []rune(string(b))
	if len(r) > maxRunes {
		return string(r[:maxRunes]) + "..."
	}
	return string(r)
}

func SetBearer(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
