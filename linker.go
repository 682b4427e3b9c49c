package vinylauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// LinkProvider is the OAuth 1.0a provider a user account can be linked to.
// The discogs package provides the implementation used in production.
type LinkProvider interface {
	RequestToken(ctx context.Context) (token, secret string, err error)
	AuthorizationURL(requestToken string) (string, error)
	AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (token, secret string, err error)
	Identity(ctx context.Context, accessToken, accessSecret string) (username string, err error)
}

// CallbackParams are the query parameters the provider redirects back with.
type CallbackParams struct {
	RequestToken string
	Verifier     string
	// Denied is set instead of the verifier when the user refused access.
	Denied string
}

// LinkStatus is what the profile page shows about the linked account.
type LinkStatus struct {
	Linked          bool   `json:"linked"`
	DiscogsUsername string `json:"discogsUsername,omitempty"`
}

// Linker drives the three-legged handshake that attaches a Discogs
// account to a local user:
//
//	Unlinked -> RequestIssued (BeginLink)
//	RequestIssued -> Linked (Callback)
//	Linked -> Unlinked (Disconnect)
type Linker struct {
	Provider     LinkProvider
	Users        UserStore
	Timeout      time.Duration
	HandshakeTTL time.Duration
	Logger       *slog.Logger

	now func() time.Time
}

func NewLinker(provider LinkProvider, users UserStore, cfg Config) *Linker {
	cfg.EnsureDefaults()
	return &Linker{
		Provider:     provider,
		Users:        users,
		Timeout:      cfg.ProviderTimeout,
		HandshakeTTL: cfg.HandshakeTTL,
		Logger:       slog.Default(),
		now:          time.Now,
	}
}

func (l *Linker) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}

// BeginLink obtains a request token and returns the URL the browser must
// visit plus the state to keep until the callback. Nothing is persisted
// when the provider fails.
func (l *Linker) BeginLink(ctx context.Context, userID int64) (string, *HandshakeState, error) {
	if l.Provider == nil {
		return "", nil, fmt.Errorf("%w: discogs linking is not configured", ErrServiceUnavailable)
	}
	if userID <= 0 {
		return "", nil, fmt.Errorf("%w: no user", ErrUnauthorized)
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	token, secret, err := l.Provider.RequestToken(ctx)
	if err != nil {
		l.Logger.Warn("discogs request token failed", "user_id", userID, "error", err)
		return "", nil, fmt.Errorf("%w: request token: %v", ErrServiceUnavailable, err)
	}
	authURL, err := l.Provider.AuthorizationURL(token)
	if err != nil {
		return "", nil, fmt.Errorf("%w: authorization url: %v", ErrServiceUnavailable, err)
	}
	state := &HandshakeState{
		RequestToken:       token,
		RequestTokenSecret: secret,
		UserID:             userID,
		IssuedAt:           l.clock(),
	}
	return authURL, state, nil
}

// Callback completes the handshake. The caller must discard state whatever
// the outcome.
func (l *Linker) Callback(ctx context.Context, state *HandshakeState, params CallbackParams) (*LinkStatus, error) {
	if state == nil {
		return nil, NewAuthError(ErrUnauthorized, ErrCodeUnauthorized, "No Discogs link in progress", "")
	}
	if state.Expired(l.clock(), l.HandshakeTTL) {
		return nil, NewAuthError(ErrUnauthorized, ErrCodeTokenExpired, "Discogs link request expired", "")
	}
	if params.RequestToken == "" || !tokensEqual(params.RequestToken, state.RequestToken) {
		l.Logger.Warn("discogs callback token mismatch", "user_id", state.UserID)
		return nil, NewAuthError(ErrUnauthorized, ErrCodeInvalidToken, "Discogs request token mismatch", "oauth_token")
	}
	if params.Denied != "" {
		return nil, NewAuthError(ErrForbidden, ErrCodeLinkDenied, "Discogs access was denied", "")
	}
	if params.Verifier == "" {
		return nil, NewAuthError(ErrBadRequest, ErrCodeMissingField, "Missing OAuth verifier", "oauth_verifier")
	}

	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	accessToken, accessSecret, err := l.Provider.AccessToken(ctx, state.RequestToken, state.RequestTokenSecret, params.Verifier)
	if err != nil {
		l.Logger.Warn("discogs access token exchange failed", "user_id", state.UserID, "error", err)
		return nil, fmt.Errorf("%w: access token: %v", ErrServiceUnavailable, err)
	}
	username, err := l.Provider.Identity(ctx, accessToken, accessSecret)
	if err != nil {
		l.Logger.Warn("discogs identity lookup failed", "user_id", state.UserID, "error", err)
		return nil, fmt.Errorf("%w: identity: %v", ErrServiceUnavailable, err)
	}

	_, err = l.Users.UpdateUser(ctx, state.UserID, func(u *User) error {
		u.DiscogsAccessToken = StringPtr(accessToken)
		u.DiscogsAccessTokenSecret = StringPtr(accessSecret)
		u.DiscogsUsername = StringPtr(username)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewAuthError(ErrUnauthorized, ErrCodeUnauthorized, "Account no longer exists", "")
		}
		return nil, err
	}
	l.Logger.Info("discogs account linked", "user_id", state.UserID, "discogs_username", username)
	return &LinkStatus{Linked: true, DiscogsUsername: username}, nil
}

// Disconnect clears the linked credentials. Unlinking an unlinked user is
// not an error.
func (l *Linker) Disconnect(ctx context.Context, userID int64) error {
	_, err := l.Users.UpdateUser(ctx, userID, func(u *User) error {
		u.DiscogsAccessToken = nil
		u.DiscogsAccessTokenSecret = nil
		u.DiscogsUsername = nil
		return nil
	})
	if err != nil {
		return err
	}
	l.Logger.Info("discogs account unlinked", "user_id", userID)
	return nil
}

func (l *Linker) Status(ctx context.Context, userID int64) (*LinkStatus, error) {
	user, err := l.Users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.DiscogsLinked() {
		return &LinkStatus{}, nil
	}
	return &LinkStatus{Linked: true, DiscogsUsername: *user.DiscogsUsername}, nil
}
