package fitbit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/sstent/fitbitkml/internal/config"
)

// Scopes requested during authorization: activity for the workout list,
// location for the GPS tracks and profile for basic user info.
var Scopes = []string{"activity", "location", "profile"}

// ErrNoAuthorizationCode is returned when the callback URL carries neither a
// code nor an error.
var ErrNoAuthorizationCode = errors.New("no authorization code found in callback URL")

// AuthorizationError is the error a provider reports on the redirect.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
}

// Authorizer runs the authorization-code flow with PKCE (S256). One
// Authorizer covers one attempt: it holds the verifier and state between
// AuthCodeURL and Exchange.
type Authorizer struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	verifier   string
	state      string
}

// NewAuthorizer requires the client id and secret in cfg.
func NewAuthorizer(cfg *config.Config, hc *http.Client) (*Authorizer, error) {
	if err := cfg.RequireClientCredentials(); err != nil {
		return nil, err
	}
	state, err := randomState()
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Authorizer{
		oauth:      oauthConfig(cfg),
		httpClient: hc,
		verifier:   oauth2.GenerateVerifier(),
		state:      state,
	}, nil
}

// AuthCodeURL returns the URL the user must visit to grant access.
func (a *Authorizer) AuthCodeURL() string {
	return a.oauth.AuthCodeURL(a.state, oauth2.S256ChallengeOption(a.verifier))
}

// RedirectURL is the callback the provider will redirect to.
func (a *Authorizer) RedirectURL() string {
	return a.oauth.RedirectURL
}

// ParseCallback extracts the authorization code from the URL the browser was
// redirected to.
func (a *Authorizer) ParseCallback(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("no callback URL provided")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse callback URL: %w", err)
	}

	q := u.Query()
	if e := q.Get("error"); e != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = "Unknown error"
		}
		return "", &AuthorizationError{Code: e, Description: desc}
	}

	code := q.Get("code")
	if code == "" {
		return "", ErrNoAuthorizationCode
	}
	if st := q.Get("state"); st != "" && st != a.state {
		return "", fmt.Errorf("callback state does not match the authorization request")
	}
	// Fitbit appends "#_=_" to the redirect; url.Parse already drops the fragment.
	return code, nil
}

// Exchange trades the authorization code and the PKCE verifier for a token.
func (a *Authorizer) Exchange(ctx context.Context, code string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	t, err := a.oauth.Exchange(ctx, code, oauth2.VerifierOption(a.verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, fmt.Errorf("failed to exchange authorization code: %w", &APIError{StatusCode: re.Response.StatusCode, Body: string(re.Body)})
		}
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return FromOAuth2(t), nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
