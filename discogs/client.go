// Package discogs is the OAuth 1.0a client used to link Discogs accounts.
// It implements vinylauth.LinkProvider.
package discogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
)

// Production endpoints.
const (
	RequestTokenURL = "https://api.discogs.com/oauth/request_token"
	AuthorizeURL    = "https://www.discogs.com/oauth/authorize"
	AccessTokenURL  = "https://api.discogs.com/oauth/access_token"
	IdentityURL     = "https://api.discogs.com/oauth/identity"
)

// Discogs rejects API calls without a User-Agent.
const DefaultUserAgent = "VinylCollectionApp/1.0"

var ErrNoUsername = errors.New("discogs: identity response has no username")

type Config struct {
	ConsumerKey    string `mapstructure:"consumer_key"`
	ConsumerSecret string `mapstructure:"consumer_secret"`
	CallbackURL    string `mapstructure:"callback_url"`
	UserAgent      string `mapstructure:"user_agent"`

	// Endpoint overrides, mainly for tests.
	RequestTokenURL string `mapstructure:"request_token_url"`
	AuthorizeURL    string `mapstructure:"authorize_url"`
	AccessTokenURL  string `mapstructure:"access_token_url"`
	IdentityURL     string `mapstructure:"identity_url"`

	// Upper bound on each provider call, on top of any context deadline.
	Timeout time.Duration `mapstructure:"timeout"`
}

func (c *Config) EnsureDefaults() {
	if c.RequestTokenURL == "" {
		c.RequestTokenURL = RequestTokenURL
	}
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = AuthorizeURL
	}
	if c.AccessTokenURL == "" {
		c.AccessTokenURL = AccessTokenURL
	}
	if c.IdentityURL == "" {
		c.IdentityURL = IdentityURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Configured reports whether consumer credentials are present.
func (c *Config) Configured() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != ""
}

type Client struct {
	cfg   Config
	oauth oauth1.Config

	// Transport used for every call. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

func NewClient(cfg Config) *Client {
	cfg.EnsureDefaults()
	return &Client{
		cfg: cfg,
		oauth: oauth1.Config{
			ConsumerKey:    cfg.ConsumerKey,
			ConsumerSecret: cfg.ConsumerSecret,
			CallbackURL:    cfg.CallbackURL,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: cfg.RequestTokenURL,
				AuthorizeURL:    cfg.AuthorizeURL,
				AccessTokenURL:  cfg.AccessTokenURL,
			},
		},
	}
}

// contextTransport binds outgoing requests to ctx, since the oauth1 token
// calls take no context of their own.
type contextTransport struct {
	ctx       context.Context
	base      http.RoundTripper
	userAgent string
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(t.ctx)
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

func (c *Client) httpClient(ctx context.Context) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   c.cfg.Timeout,
		Transport: &contextTransport{ctx: ctx, base: base, userAgent: c.cfg.UserAgent},
	}
}

// withClient returns a copy of the oauth1 config whose calls run under ctx.
func (c *Client) withClient(ctx context.Context) *oauth1.Config {
	oc := c.oauth
	oc.HTTPClient = c.httpClient(ctx)
	return &oc
}

// RequestToken performs the first leg.
func (c *Client) RequestToken(ctx context.Context) (string, string, error) {
	token, secret, err := c.withClient(ctx).RequestToken()
	if err != nil {
		return "", "", fmt.Errorf("discogs: request token: %w", err)
	}
	return token, secret, nil
}

// AuthorizationURL is where the user approves access.
func (c *Client) AuthorizationURL(requestToken string) (string, error) {
	u, err := c.oauth.AuthorizationURL(requestToken)
	if err != nil {
		return "", fmt.Errorf("discogs: authorization url: %w", err)
	}
	return u.String(), nil
}

// AccessToken exchanges the authorized request token for the permanent
// access credential.
func (c *Client) AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (string, string, error) {
	token, secret, err := c.withClient(ctx).AccessToken(requestToken, requestSecret, verifier)
	if err != nil {
		return "", "", fmt.Errorf("discogs: access token: %w", err)
	}
	return token, secret, nil
}

// IdentityResponse is the body of GET /oauth/identity.
type IdentityResponse struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	ResourceURL  string `json:"resource_url"`
	ConsumerName string `json:"consumer_name"`
}

// Identity returns the Discogs username the access credential belongs to.
func (c *Client) Identity(ctx context.Context, accessToken, accessSecret string) (string, error) {
	ident, err := c.FetchIdentity(ctx, accessToken, accessSecret)
	if err != nil {
		return "", err
	}
	return ident.Username, nil
}

func (c *Client) FetchIdentity(ctx context.Context, accessToken, accessSecret string) (*IdentityResponse, error) {
	ctx = context.WithValue(ctx, oauth1.HTTPClient, c.httpClient(ctx))
	client := c.oauth.Client(ctx, oauth1.NewToken(accessToken, accessSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.IdentityURL, nil)
	if err != nil {
		return nil, fmt.Errorf("discogs: identity request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discogs: identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("discogs: identity returned %d: %s", resp.StatusCode, body)
	}
	var ident IdentityResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ident); err != nil {
		return nil, fmt.Errorf("discogs: decode identity: %w", err)
	}
	if ident.Username == "" {
		return nil, ErrNoUsername
	}
	return &ident, nil
}
