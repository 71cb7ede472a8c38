// Package mosapi provides a Go client for ICANN's Monitoring System API
// (MoSAPI), the mutually-authenticated HTTPS service through which ICANN
// exposes SLA monitoring state, alarm and downtime figures, and METRICA
// abuse reports to registries and registrars.
//
// A Client owns the session lifecycle: it logs in with HTTP Basic
// credentials, caches the session cookie, and re-authenticates
// transparently when the session expires. The Monitoring and Metrica
// facades expose the individual endpoints over the shared session.
package mosapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerCookie        = "Cookie"
	headerSetCookie     = "Set-Cookie"

	contentTypeJSON = "application/json"

	cookieIDPrefix = "id="
)

// Config holds the options for a Client.
type Config struct {
	// BaseURL is the MoSAPI root, e.g. "https://mosapi.icann.org/mosapi/v1".
	// A trailing slash is tolerated.
	BaseURL string

	// EntityType is EntityTypeRegistry or EntityTypeRegistrar.
	EntityType string

	// Credentials resolves the HTTP Basic username and password for an
	// entity at login time. Lookups happen per login, so rotated
	// credentials take effect without a restart.
	Credentials CredentialSource

	// Cache stores session cookies between requests. Defaults to a
	// process-local MemoryCache.
	Cache SessionCache

	// Transport carries the TLS-client-authenticated channel.
	Transport *Transport

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// CredentialSource supplies per-entity login credentials.
type CredentialSource interface {
	Username(ctx context.Context, entityID string) (string, error)
	Password(ctx context.Context, entityID string) (string, error)
}

// Client is an authenticated MoSAPI client for one entity type. Methods
// are safe for concurrent use when the configured SessionCache is.
type Client struct {
	baseURL     string
	entityType  string
	credentials CredentialSource
	cache       SessionCache
	transport   *Transport
	logger      *slog.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("mosapi: BaseURL is required")
	}
	if cfg.EntityType == "" {
		return nil, fmt.Errorf("mosapi: EntityType is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("mosapi: Credentials is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("mosapi: Transport is required")
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		entityType:  cfg.EntityType,
		credentials: cfg.Credentials,
		cache:       cache,
		transport:   cfg.Transport,
		logger:      logger,
	}, nil
}

// Login authenticates entityID with HTTP Basic credentials and caches the
// session cookie. Callers rarely need this directly: GetJSON and PostJSON
// log in on demand.
func (c *Client) Login(ctx context.Context, entityID string) error {
	username, err := c.credentials.Username(ctx, entityID)
	if err != nil {
		return fmt.Errorf("mosapi: resolve username for %s: %w", entityID, err)
	}
	password, err := c.credentials.Password(ctx, entityID)
	if err != nil {
		return fmt.Errorf("mosapi: resolve password for %s: %w", entityID, err)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))

	resp, err := c.transport.Do(ctx, http.MethodPost, c.buildURL(entityID, "login", nil), map[string]string{
		headerAuthorization: "Basic " + encoded,
	}, "")
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		setCookie := resp.Header.Get(headerSetCookie)
		if setCookie == "" {
			return &Error{
				Kind:       KindAPI,
				StatusCode: resp.StatusCode,
				Message:    "Login succeeded but server did not return a Set-Cookie header.",
			}
		}
		cookie, err := parseCookieValue(setCookie)
		if err != nil {
			return err
		}
		if err := c.cache.Put(ctx, entityID, cookie); err != nil {
			return fmt.Errorf("mosapi: store session cookie for %s: %w", entityID, err)
		}
		c.logger.InfoContext(ctx, "mosapi login successful", "entity_id", entityID)
		return nil
	case http.StatusUnauthorized:
		return &Error{Kind: KindInvalidCredentials, StatusCode: resp.StatusCode, Message: resp.Body}
	case http.StatusForbidden:
		return &Error{Kind: KindIPNotAllowed, StatusCode: resp.StatusCode, Message: resp.Body}
	case http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, StatusCode: resp.StatusCode, Message: resp.Body}
	default:
		return &Error{
			Kind:       KindAPI,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Login failed with unexpected status code: %d - %s", resp.StatusCode, resp.Body),
		}
	}
}

// Logout terminates the session for entityID. The cached cookie is
// dropped whether or not the server accepts the logout, so a failed call
// never pins a dead session.
func (c *Client) Logout(ctx context.Context, entityID string) error {
	defer func() {
		if err := c.cache.Clear(ctx, entityID); err != nil {
			c.logger.WarnContext(ctx, "failed to clear session cache", "entity_id", entityID, "error", err)
			return
		}
		c.logger.InfoContext(ctx, "cleared session cache", "entity_id", entityID)
	}()

	headers := map[string]string{}
	if cookie, ok := c.cache.Get(ctx, entityID); ok {
		headers[headerCookie] = cookie
	}

	resp, err := c.transport.Do(ctx, http.MethodPost, c.buildURL(entityID, "logout", nil), headers, "")
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		c.logger.InfoContext(ctx, "mosapi logout successful", "entity_id", entityID)
		return nil
	case http.StatusUnauthorized:
		// The session was already gone; nothing left to terminate.
		c.logger.WarnContext(ctx, "logout rejected, session may have already expired",
			"entity_id", entityID, "body", resp.Body)
		return nil
	case http.StatusForbidden:
		return &Error{Kind: KindIPNotAllowed, StatusCode: resp.StatusCode, Message: resp.Body}
	default:
		return &Error{
			Kind:       KindAPI,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Logout failed with unexpected status code: %d - %s", resp.StatusCode, resp.Body),
		}
	}
}

// GetJSON issues an authenticated GET and returns the response verbatim
// for any non-401 status. Interpreting the status is the caller's job;
// only session expiry is handled here.
func (c *Client) GetJSON(ctx context.Context, entityID, path string, query url.Values, headers map[string]string) (*Response, error) {
	requestURL := c.buildURL(entityID, path, query)
	return c.do(ctx, entityID, func(ctx context.Context, cookie string) (*Response, error) {
		return c.transport.Do(ctx, http.MethodGet, requestURL, withCookie(headers, cookie), "")
	})
}

// PostJSON issues an authenticated POST. A non-empty body is sent as
// application/json. The response is returned verbatim for any non-401
// status.
func (c *Client) PostJSON(ctx context.Context, entityID, path, body string, headers map[string]string) (*Response, error) {
	requestURL := c.buildURL(entityID, path, nil)
	return c.do(ctx, entityID, func(ctx context.Context, cookie string) (*Response, error) {
		h := withCookie(headers, cookie)
		if body != "" {
			h[headerContentType] = contentTypeJSON
		}
		return c.transport.Do(ctx, http.MethodPost, requestURL, h, body)
	})
}

// do runs one request with the session protocol: try the cached cookie,
// re-login at most once on a 401 or a cache miss, then retry. A 401 on
// the retried request is terminal. Any 401 means the session expired;
// the body is never inspected to discriminate.
func (c *Client) do(ctx context.Context, entityID string, exec func(context.Context, string) (*Response, error)) (*Response, error) {
	if cookie, ok := c.cache.Get(ctx, entityID); ok {
		resp, err := exec(ctx, cookie)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		c.logger.WarnContext(ctx, "mosapi session expired, re-logging in", "entity_id", entityID)
	} else {
		c.logger.InfoContext(ctx, "no mosapi session cookie cached, logging in", "entity_id", entityID)
	}

	if err := c.Login(ctx, entityID); err != nil {
		if IsRateLimited(err) {
			return nil, &Error{Kind: KindAPI, Message: "Try running after some time", cause: err}
		}
		return nil, &Error{Kind: KindAPI, Message: "Automatic re-login failed.", cause: err}
	}

	cookie, ok := c.cache.Get(ctx, entityID)
	if !ok {
		return nil, &Error{Kind: KindAPI, Message: "Login succeeded but failed to retrieve new session cookie."}
	}

	resp, err := exec(ctx, cookie)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &Error{
			Kind:       KindUnauthorized,
			StatusCode: resp.StatusCode,
			Message:    "Authentication failed even after re-login.",
			cause:      &Error{Kind: KindInvalidCredentials, StatusCode: resp.StatusCode, Message: resp.Body},
		}
	}
	return resp, nil
}

// buildURL joins base URL, entity type, entity ID and path with exactly
// one slash between segments regardless of how path is spelled.
func (c *Client) buildURL(entityID, path string, query url.Values) string {
	u := c.baseURL + "/" + c.entityType + "/" + entityID + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func withCookie(headers map[string]string, cookie string) map[string]string {
	h := map[string]string{headerCookie: cookie}
	for k, v := range headers {
		h[k] = v
	}
	return h
}

// parseCookieValue extracts the "id=..." fragment from a Set-Cookie
// header value.
func parseCookieValue(setCookie string) (string, error) {
	for _, part := range strings.Split(setCookie, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, cookieIDPrefix) {
			return part, nil
		}
	}
	return "", &Error{
		Kind:    KindAPI,
		Message: fmt.Sprintf("Could not parse 'id' from Set-Cookie header: %s", setCookie),
	}
}
