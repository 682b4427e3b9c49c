package vinylauth

import (
	"fmt"
	"time"
)

// MinSecretLength is the minimum accepted length of the session signing key.
const MinSecretLength = 32

// Config holds every setting the auth core reads. It is loaded once at
// startup (see the config package) and passed into the services.
type Config struct {
	AppName string `mapstructure:"app_name"`

	// BaseURL prefixes links sent in verification and reset emails.
	BaseURL string `mapstructure:"base_url"`

	JWTSecretKey  string `mapstructure:"jwt_secret"`
	JWTIssuer     string `mapstructure:"jwt_issuer"`
	JWTSigningAlg string `mapstructure:"jwt_signing_alg"`

	// Session lifetimes issued at login and at refresh.
	LoginTokenTTL   time.Duration `mapstructure:"login_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`

	// RefreshWindow bounds how long after expiry a token may still be
	// refreshed. Zero selects the default of 7 days, negative means no bound.
	RefreshWindow time.Duration `mapstructure:"refresh_window"`

	SessionCookieName string `mapstructure:"session_cookie_name"`

	// Production turns on the Secure flag for every cookie we set.
	Production bool `mapstructure:"production"`

	// Where the page gate sends unauthenticated browsers. The API gate
	// always answers with JSON instead.
	LoginURL         string `mapstructure:"login_url"`
	CallbackURLParam string `mapstructure:"callback_url_param"`

	BcryptCost        int           `mapstructure:"bcrypt_cost"`
	MinPasswordLength int           `mapstructure:"min_password_length"`
	PasswordResetTTL  time.Duration `mapstructure:"password_reset_ttl"`

	// Discogs linking.
	HandshakeTTL    time.Duration `mapstructure:"handshake_ttl"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	LinkSuccessURL  string        `mapstructure:"link_success_url"`

	// Attempts allowed per client per window. Zero disables the limit.
	LoginAttempts  int           `mapstructure:"login_attempts"`
	LoginWindow    time.Duration `mapstructure:"login_window"`
	ForgotAttempts int           `mapstructure:"forgot_attempts"`
	ForgotWindow   time.Duration `mapstructure:"forgot_window"`
}

func DefaultConfig() Config {
	var c Config
	c.EnsureDefaults()
	c.LoginAttempts = 10
	c.LoginWindow = 15 * time.Minute
	c.ForgotAttempts = 5
	c.ForgotWindow = time.Hour
	return c
}

// EnsureDefaults fills in every unset field except the secret.
func (c *Config) EnsureDefaults() *Config {
	if c.AppName == "" {
		c.AppName = "VinylCollection"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = c.AppName
	}
	if c.JWTSigningAlg == "" {
		c.JWTSigningAlg = "HS256"
	}
	if c.LoginTokenTTL <= 0 {
		c.LoginTokenTTL = 2 * time.Hour
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 24 * time.Hour
	}
	if c.RefreshWindow == 0 {
		c.RefreshWindow = 7 * 24 * time.Hour
	}
	if c.SessionCookieName == "" {
		c.SessionCookieName = "token"
	}
	if c.LoginURL == "" {
		c.LoginURL = "/login"
	}
	if c.CallbackURLParam == "" {
		c.CallbackURLParam = "callbackURL"
	}
	if c.BcryptCost <= 0 {
		c.BcryptCost = 10
	}
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = 6
	}
	if c.PasswordResetTTL <= 0 {
		c.PasswordResetTTL = time.Hour
	}
	if c.HandshakeTTL <= 0 {
		c.HandshakeTTL = 10 * time.Minute
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.LinkSuccessURL == "" {
		c.LinkSuccessURL = "/profile?discogs=connected"
	}
	return c
}

// Validate reports configuration that must stop the process from starting.
func (c *Config) Validate() error {
	if c.JWTSecretKey == "" {
		return fmt.Errorf("jwt secret is not set")
	}
	if len(c.JWTSecretKey) < MinSecretLength {
		return fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	}
	switch c.JWTSigningAlg {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported jwt signing algorithm %q", c.JWTSigningAlg)
	}
	return nil
}
