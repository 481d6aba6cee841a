// Package auth supplies bearer tokens for Vertex AI calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the OAuth scope required by the Vertex AI API.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// ErrMissingToken indicates no usable token could be retrieved.
var ErrMissingToken = errors.New("couldn't retrieve a token")

// TokenSource returns a bearer token for the next request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, used for pre-minted access tokens and tests.
type StaticToken string

// Token returns the token, or ErrMissingToken when it is blank.
func (s StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrMissingToken
	}
	return string(s), nil
}

// OAuthTokenSource adapts an oauth2.TokenSource. The wrapped source is
// expected to cache and refresh tokens itself.
type OAuthTokenSource struct {
	src oauth2.TokenSource
}

// NewOAuthTokenSource wraps src.
func NewOAuthTokenSource(src oauth2.TokenSource) *OAuthTokenSource {
	return &OAuthTokenSource{src: oauth2.ReuseTokenSource(nil, src)}
}

// NewGoogleTokenSource loads Application Default Credentials, or the service
// account file at credentialsFile when it is set.
func NewGoogleTokenSource(ctx context.Context, credentialsFile string) (*OAuthTokenSource, error) {
	if credentialsFile == "" {
		creds, err := google.FindDefaultCredentials(ctx, CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
		return NewOAuthTokenSource(creds.TokenSource), nil
	}

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file %q: %w", credentialsFile, err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials file %q: %w", credentialsFile, err)
	}
	return NewOAuthTokenSource(creds.TokenSource), nil
}

// Token refreshes the token if needed and returns the access token.
func (s *OAuthTokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := s.src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingToken, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return "", ErrMissingToken
	}
	return tok.AccessToken, nil
}
