package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	va "github.com/vascoliveira2511/vinylauth"
)

// RefreshThreshold is how long before expiry to proactively refresh
const RefreshThreshold = 5 * time.Minute

// ErrSessionEnded is returned when the session expired and the server
// refused to refresh it. The user has to log in again.
var ErrSessionEnded = errors.New("session ended, log in again")

// AuthClient is an HTTP client with automatic session management
type AuthClient struct {
	mu              sync.Mutex
	serverURL       string
	store           CredentialStore
	httpClient      *http.Client
	baseTransport   http.RoundTripper
	loginEndpoint   string
	refreshEndpoint string
	cookieName      string
}

// errorResponse is the error body written by the server
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithEndpoints sets custom login and refresh paths
func WithEndpoints(login, refresh string) ClientOption {
	return func(c *AuthClient) {
		c.loginEndpoint = login
		c.refreshEndpoint = refresh
	}
}

// WithCookieName sets the session cookie name the server uses
func WithCookieName(name string) ClientOption {
	return func(c *AuthClient) {
		c.cookieName = name
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client != nil && client.Transport != nil {
			c.baseTransport = client.Transport
		}
		if client != nil {
			c.httpClient.Timeout = client.Timeout
			c.httpClient.CheckRedirect = client.CheckRedirect
		}
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a new authenticated HTTP client for a server
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:       serverURL,
		store:           store,
		httpClient:      &http.Client{},
		baseTransport:   http.DefaultTransport,
		loginEndpoint:   "/api/auth/login",
		refreshEndpoint: "/api/auth/refresh",
		cookieName:      DefaultCookieName,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &refreshTransport{
		client: c,
		base:   c.baseTransport,
	}

	return c
}

// HTTPClient returns the underlying HTTP client with auth handling
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for
func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the current session token, refreshing if needed.
// It returns "" when not logged in.
func (c *AuthClient) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", nil
	}

	// The session token doubles as its own refresh credential, so an
	// already expired token is still worth a refresh attempt.
	if cred.IsExpiringSoon(RefreshThreshold) {
		refreshed, err := c.refreshLocked(cred)
		if err != nil {
			if !cred.IsExpired() {
				return cred.SessionToken, nil
			}
			return "", fmt.Errorf("session expired and refresh failed: %w", err)
		}
		cred = refreshed
	}

	return cred.SessionToken, nil
}

// GetCredential returns the stored credential for this server
func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// Login authenticates with username/password and stores the session
func (c *AuthClient) Login(username, password string) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := map[string]string{"username": username, "password": password}
	cred, err := c.sessionRequest(c.loginEndpoint, body, "")
	if err != nil {
		return nil, err
	}

	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Logout removes the credential for this server. Session tokens are
// stateless, so there is nothing to revoke on the server.
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired()
}

// refreshLocked trades the current token for a fresh one. A definitive
// refusal from the server drops the stored credential.
// Caller must hold c.mu
func (c *AuthClient) refreshLocked(cred *ServerCredential) (*ServerCredential, error) {
	next, err := c.sessionRequest(c.refreshEndpoint, nil, cred.SessionToken)
	if err != nil {
		if errors.Is(err, ErrSessionEnded) {
			c.store.RemoveCredential(c.serverURL)
			c.store.Save()
		}
		return nil, err
	}

	if err := c.store.SetCredential(c.serverURL, next); err != nil {
		return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, err
	}
	return next, nil
}

// sessionRequest posts to a session endpoint and reads the session cookie
// from the response.
func (c *AuthClient) sessionRequest(path string, body any, token string) (*ServerCredential, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(http.MethodPost, c.serverURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: token})
	}

	// Use base transport directly to avoid auth loop
	httpClient := &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		if token != "" && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %s", ErrSessionEnded, msg)
		}
		return nil, fmt.Errorf("authentication failed: %s", msg)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name != c.cookieName || cookie.Value == "" {
			continue
		}
		claims, err := va.DecodeClaims(cookie.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid session token from server: %w", err)
		}
		cred := &ServerCredential{
			SessionToken: cookie.Value,
			UserID:       claims.UserID,
			Username:     claims.Username,
			CreatedAt:    time.Now(),
		}
		if claims.ExpiresAt != nil {
			cred.ExpiresAt = claims.ExpiresAt.Time
		}
		return cred, nil
	}
	return nil, fmt.Errorf("server response carried no %q cookie", c.cookieName)
}

// refreshTransport is an http.RoundTripper that adds auth and handles refresh
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.GetToken()
	if err != nil {
		return nil, err
	}

	out := req
	if token != "" {
		out = withSessionCookie(req, t.client.cookieName, token)
	}
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	// A 401 with a token we believed valid gets one refresh and one retry,
	// as long as the body can be replayed.
	if resp.StatusCode != http.StatusUnauthorized || token == "" {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	t.client.mu.Lock()
	cred, _ := t.client.store.GetCredential(t.client.serverURL)
	var refreshed *ServerCredential
	if cred != nil {
		refreshed, err = t.client.refreshLocked(cred)
	}
	t.client.mu.Unlock()
	if cred == nil || err != nil {
		return resp, nil
	}

	retry := withSessionCookie(req, t.client.cookieName, refreshed.SessionToken)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	resp.Body.Close()
	return t.base.RoundTrip(retry)
}
