// Package credential resolves the bearer token shared read-only by the
// channel and the HTTP clients.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// ErrNoToken means no credential is available. Callers treat it as
// "proceed unauthenticated", not as a failure.
var ErrNoToken = errors.New("no access token")

type Source interface {
	Token(ctx context.Context) (string, error)
}

type tokenSource struct {
	ts oauth2.TokenSource
}

// FromTokenSource adapts an oauth2.TokenSource. Tokens are cached until
// they expire.
func FromTokenSource(ts oauth2.TokenSource) Source {
	return &tokenSource{ts: oauth2.ReuseTokenSource(nil, ts)}
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := s.ts.Token()
	if err != nil {
		return "", fmt.Errorf("resolving token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", ErrNoToken
	}
	return tok.AccessToken, nil
}

// Static returns a Source that always yields token. An empty token yields
// ErrNoToken.
func Static(token string) Source {
	if token == "" {
		return None()
	}
	return FromTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
}

// None is the anonymous source.
func None() Source { return noneSource{} }

type noneSource struct{}

func (noneSource) Token(context.Context) (string, error) { return "", ErrNoToken }

// FromFile reads the token from path on every call so a rotated token file
// is picked up on the next connection attempt. A missing or empty file
// yields ErrNoToken.
func FromFile(path string) Source {
	return fileSource(path)
}

type fileSource string

func (f fileSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// Resolve returns the token or "" when none is available. Only unexpected
// failures are returned as errors.
func Resolve(ctx context.Context, src Source) (string, error) {
	if src == nil {
		return "", nil
	}
	tok, err := src.Token(ctx)
	if errors.Is(err, ErrNoToken) {
		return "", nil
	}
	return tok, err
}
