// Package provider implements the HTTP client for the contact and mail
// provider: contact lookup, outreach sending, and the OAuth token
// endpoint used by the token manager.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/outfield/enrichd/errors"
	"github.com/outfield/enrichd/token"
)

// ErrNoContactFound indicates the provider knows the company but has no
// reachable contact for it. A per-item condition, never systemic.
var ErrNoContactFound = errors.New("no contact found")

// ErrAuthFailed indicates the provider rejected our credentials even
// after a forced token refresh. Systemic: the whole job stops.
var ErrAuthFailed = errors.New("provider authentication failed")

// ErrQuotaExhausted indicates the provider-side quota is spent.
// Systemic for the current job.
var ErrQuotaExhausted = errors.New("provider quota exhausted")

// TokenSource supplies and force-refreshes per-user access tokens.
// Implemented by token.Manager.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
	ForceRefresh(ctx context.Context, userID, staleToken string) (string, error)
}

// Config holds provider endpoint and quota settings
type Config struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	RequestsPerMinute int
	Timeout           time.Duration
}

// Contact is one reachable person at a company
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Title string `json:"title,omitempty"`
}

// Client is the bearer-authenticated JSON client for the provider API.
// All outbound API calls share one rate limiter sized to the configured
// per-minute quota.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	tokens  TokenSource
	logger  *zap.SugaredLogger
}

// NewClient creates a provider client. tokens may be nil only when the
// client is used exclusively as a token.Refresher.
func NewClient(cfg Config, tokens TokenSource, log *zap.SugaredLogger) *Client {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(perSecond, cfg.RequestsPerMinute),
		tokens:  tokens,
		logger:  log.Named("provider"),
	}
}

// SetTokenSource wires the token source after construction. Breaks the
// init cycle: the token manager needs the client as its refresher, the
// client needs the manager for bearer tokens.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// FindContact looks up a reachable contact for a company.
// Returns ErrNoContactFound when the provider has none.
func (c *Client) FindContact(ctx context.Context, userID, companyName, domain string) (*Contact, error) {
	payload := map[string]string{
		"company_name": companyName,
		"domain":       domain,
	}

	var out struct {
		Contact *Contact `json:"contact"`
	}
	if err := c.doAuthenticated(ctx, userID, http.MethodPost, "/v1/contacts/search", payload, &out); err != nil {
		return nil, err
	}

	if out.Contact == nil || out.Contact.Email == "" {
		return nil, errors.Wrapf(ErrNoContactFound, "company %s", companyName)
	}

	return out.Contact, nil
}

// SendEmail sends one outreach email through the provider
func (c *Client) SendEmail(ctx context.Context, userID, to, subject, body string) error {
	payload := map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	}

	return c.doAuthenticated(ctx, userID, http.MethodPost, "/v1/messages", payload, nil)
}

// doAuthenticated performs one bearer-authenticated JSON request. A 401
// triggers exactly one forced refresh and retry; a second 401 surfaces
// as ErrAuthFailed.
func (c *Client) doAuthenticated(ctx context.Context, userID, method, path string, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait cancelled")
	}

	accessToken, err := c.tokens.AccessToken(ctx, userID)
	if err != nil {
		return err
	}

	status, err := c.doJSON(ctx, method, path, accessToken, payload, out)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		refreshed, err := c.tokens.ForceRefresh(ctx, userID, accessToken)
		if err != nil {
			return err
		}

		c.logger.Debugw("Retrying request after token refresh",
			"user_id", userID,
			"path", path,
		)

		status, err = c.doJSON(ctx, method, path, refreshed, payload, out)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return errors.Wrapf(ErrAuthFailed, "user %s: token rejected after refresh", userID)
		}
	}

	return statusError(status, path)
}

// doJSON performs one request and decodes the body into out on 2xx.
// 401 is returned as a status for the caller's refresh-and-retry logic.
func (c *Client) doJSON(ctx context.Context, method, path, accessToken string, payload, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, errors.Wrap(err, "failed to marshal request payload")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create provider request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "provider request %s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "failed to decode provider response")
		}
	}

	return resp.StatusCode, nil
}

// statusError maps a terminal HTTP status to a typed error
func statusError(status int, path string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return errors.Wrapf(errors.ErrNotFound, "provider resource %s", path)
	case status == http.StatusTooManyRequests:
		return errors.Wrapf(ErrQuotaExhausted, "provider returned 429 for %s", path)
	case status >= 500:
		return errors.Wrapf(errors.ErrServiceUnavailable, "provider returned %d for %s", status, path)
	default:
		return errors.Newf("provider returned unexpected status %d for %s", status, path)
	}
}

// RefreshToken exchanges a refresh token at the provider's token
// endpoint. Implements token.Refresher.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*token.TokenSet, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "token request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read token response")
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Error        string `json:"error"`
		ErrorDesc    string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, errors.Wrapf(err, "failed to parse token response (status %d)", resp.StatusCode)
	}

	if tokenResp.Error != "" {
		return nil, errors.Newf("token endpoint error: %s - %s", tokenResp.Error, tokenResp.ErrorDesc)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("token endpoint returned status %d", resp.StatusCode)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("no access token in response")
	}

	return &token.TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}
