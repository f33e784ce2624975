// Package auth supplies the Authorization header for GitHub API requests.
//
// The token is read from a file first and falls back to the GITHUB_TOKEN
// environment variable when the file is missing, unreadable or empty.
// Lookups are cached for the life of the process.
package auth

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// EnvToken is the environment variable consulted when the token file fails.
const EnvToken = "GITHUB_TOKEN"

// TokenType is the Authorization scheme GitHub accepts for personal tokens.
const TokenType = "token"

// ErrNoToken is returned when neither the file nor the environment has a token.
var ErrNoToken = errors.New("no github token configured")

// FileTokenSource reads a token from a file with an environment fallback.
// It implements oauth2.TokenSource; wrap it with oauth2.ReuseTokenSource
// (or use NewTokenSource) to avoid reading the file on every request.
type FileTokenSource struct {
	// Path is the token file. Only the first line is used.
	Path string

	// Getenv looks up the fallback variable. Defaults to os.Getenv.
	Getenv func(string) string

	logger zerolog.Logger
}

// NewFileTokenSource creates a token source for path.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{
		Path:   path,
		Getenv: os.Getenv,
		logger: log.With().Str("component", "auth").Logger(),
	}
}

// Token implements oauth2.TokenSource.
func (s *FileTokenSource) Token() (*oauth2.Token, error) {
	value, err := s.readFile()
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("path", s.Path).
			Msgf("Cannot read token from file, trying environment variable %s", EnvToken)

		getenv := s.Getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		value = strings.TrimSpace(getenv(EnvToken))
	}

	if value == "" {
		return nil, ErrNoToken
	}

	// No expiry: a reused source keeps this token for the process lifetime.
	return &oauth2.Token{AccessToken: value, TokenType: TokenType}, nil
}

func (s *FileTokenSource) readFile() (string, error) {
	if s.Path == "" {
		return "", errors.New("token file not configured")
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return "", fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var line string
	if scanner.Scan() {
		line = strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	if line == "" {
		return "", fmt.Errorf("token value from %s is empty", s.Path)
	}
	return line, nil
}

// NewTokenSource returns a cached token source reading path with the
// GITHUB_TOKEN fallback.
func NewTokenSource(path string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, NewFileTokenSource(path))
}

// Transport adds the Authorization header to every request sent through base.
// When no token can be found the request goes out unauthenticated, at the
// much lower anonymous rate limit.
type Transport struct {
	Source oauth2.TokenSource
	Base   http.RoundTripper

	logger zerolog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil) with src.
func NewTransport(src oauth2.TokenSource, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		Source: src,
		Base:   base,
		logger: log.With().Str("component", "auth").Logger(),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.Source.Token()
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			return nil, fmt.Errorf("get token: %w", err)
		}
		t.logger.Warn().Str("url", req.URL.Redacted()).Msg("No token available, sending unauthenticated request")
		return t.Base.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	tok.SetAuthHeader(r)
	return t.Base.RoundTrip(r)
}
