package fitbit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sstent/fitbitkml/internal/config"
	"github.com/sstent/fitbitkml/internal/logging"
)

const (
	// refreshWindow is how close to expiry a token may get before it is
	// refreshed ahead of a request.
	refreshWindow = time.Minute

	maxBackoff = 60 * time.Second

	// maxHeaderWait bounds server-supplied waits; Fitbit quotas reset hourly.
	maxHeaderWait = 2 * time.Hour

	tcxAccept = "application/vnd.garmin.tcx+xml,application/xml;q=0.9,*/*;q=0.8"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client represents an authorized Fitbit API client
type Client struct {
	httpClient *http.Client
	oauth      *oauth2.Config
	baseURL    *url.URL
	tokenPath  string
	token      *Token

	maxRateLimitRetries int
	limiter             *rate.Limiter
	sleep               SleepFunc
	now                 func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for API and token requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the function used to wait out rate limits.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient loads the token file named in cfg and returns a client ready to
// make authorized requests.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}

	tok, err := LoadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}

	c := &Client{
		httpClient:          http.DefaultClient,
		oauth:               oauthConfig(cfg),
		baseURL:             base,
		tokenPath:           cfg.TokenFile,
		token:               tok,
		maxRateLimitRetries: cfg.MaxRateLimitRetries,
		sleep:               sleepContext,
		now:                 time.Now,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token returns the current token.
func (c *Client) Token() *Token {
	return c.token
}

// Get performs an authorized GET and returns the response body.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, params, headers)
}

// DownloadTCX downloads the TCX payload behind link.
func (c *Client) DownloadTCX(ctx context.Context, link string) ([]byte, error) {
	return c.Get(ctx, link, nil, map[string]string{"Accept": tcxAccept})
}

func (c *Client) do(ctx context.Context, method, rawURL string, params url.Values, headers map[string]string) ([]byte, error) {
	target, err := c.baseURL.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		q := target.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	retryAuth := true
	rateLimitAttempts := 0

	for {
		if err := c.ensureFreshToken(ctx); err != nil {
			return nil, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("Authorization", "Bearer "+c.token.AccessToken)

		logging.Debug().Str("method", method).Str("url", target.String()).Msg("fitbit_request")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request to %s failed: %w", target.Path, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && retryAuth:
			logging.Info().Msg("token_expired_retrying")
			retryAuth = false
			if err := c.RefreshAccessToken(ctx, true); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusTooManyRequests && rateLimitAttempts < c.maxRateLimitRetries:
			delay := RateLimitDelay(resp.Header, rateLimitAttempts)
			rateLimitAttempts++
			logging.Warn().
				Float64("wait_seconds", delay.Seconds()).
				Str("wait_hhmm", HumanDuration(delay)).
				Int("attempt", rateLimitAttempts).
				Str("url", target.String()).
				Msg("fitbit_rate_limited")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= 400:
			return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		return body, nil
	}
}

// ensureFreshToken refreshes the token if it expires soon
func (c *Client) ensureFreshToken(ctx context.Context) error {
	if c.token.ExpiresWithin(refreshWindow, c.now()) {
		logging.Info().Msg("token_expiring_refreshing")
		return c.RefreshAccessToken(ctx, false)
	}
	return nil
}

// RefreshAccessToken exchanges the refresh token for a new access token and
// writes it to the token file. Without a refresh token it is a no-op unless
// force is set.
func (c *Client) RefreshAccessToken(ctx context.Context, force bool) error {
	if c.token.RefreshToken == "" {
		if force {
			return ErrMissingRefreshToken
		}
		return nil
	}
	if c.oauth.ClientID == "" || c.oauth.ClientSecret == "" {
		return ErrMissingClientCredentials
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: c.token.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return fmt.Errorf("failed to refresh token: %w", &APIError{StatusCode: re.Response.StatusCode, Body: string(re.Body)})
		}
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	tok := FromOAuth2(fresh)
	if tok.RefreshToken == "" {
		tok.RefreshToken = c.token.RefreshToken
	}
	if tok.ExpiresAt == nil {
		now := c.now().UTC()
		tok.ExpiresAt = &now
	}
	for k, v := range c.token.Extra {
		if _, ok := tok.Extra[k]; !ok {
			tok.Extra[k] = v
		}
	}

	c.token = tok
	if err := WriteToken(tok, c.tokenPath); err != nil {
		return err
	}
	logging.Info().Str("path", c.tokenPath).Msg("token_refreshed")
	return nil
}

// RateLimitDelay computes how long to wait after a 429. Retry-After wins,
// then Fitbit-Rate-Limit-Reset, then exponential backoff capped at a minute.
// Header waits are clamped to [1s, maxHeaderWait]; NaN and Inf are ignored.
func RateLimitDelay(h http.Header, attempt int) time.Duration {
	for _, name := range []string{"Retry-After", "Fitbit-Rate-Limit-Reset"} {
		v := h.Get(name)
		if v == "" {
			continue
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
			continue
		}
		secs = math.Min(math.Max(1, secs), maxHeaderWait.Seconds())
		return time.Duration(secs * float64(time.Second))
	}

	backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if backoff < time.Second {
		backoff = time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// HumanDuration renders d as zero-padded HH:MM:SS, rounding seconds up.
func HumanDuration(d time.Duration) string {
	total := int(math.Ceil(d.Seconds()))
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func oauthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}
