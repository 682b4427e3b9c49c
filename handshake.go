package vinylauth

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Cookies that carry an in-flight Discogs handshake between BeginLink and
// the provider's callback.
const (
	CookieRequestToken       = "discogs_request_token"
	CookieRequestTokenSecret = "discogs_request_token_secret"
	CookieLinkUserID         = "discogs_user_id"
)

const handshakeAudience = "discogs-link"

// HandshakeState is the temporary credential of a link in progress plus
// the user who started it.
type HandshakeState struct {
	RequestToken       string
	RequestTokenSecret string
	UserID             int64
	IssuedAt           time.Time
}

func (h *HandshakeState) Expired(now time.Time, ttl time.Duration) bool {
	return !h.IssuedAt.IsZero() && now.Sub(h.IssuedAt) > ttl
}

// HandshakeStore persists handshake state across the provider redirect.
// Load returns an error wrapping ErrUnauthorized when no valid state exists.
type HandshakeStore interface {
	Save(w http.ResponseWriter, r *http.Request, state *HandshakeState) error
	Load(r *http.Request) (*HandshakeState, error)
	Clear(w http.ResponseWriter, r *http.Request) error
}

// CookieHandshakeStore keeps the handshake in three short lived cookies.
// The user id cookie holds a signed token binding the user to the request
// token, so it can neither be forged nor replayed after TTL.
type CookieHandshakeStore struct {
	Key    []byte
	TTL    time.Duration
	Secure bool

	now func() time.Time
}

type handshakeClaims struct {
	RequestToken string `json:"rt"`
	jwt.RegisteredClaims
}

func NewCookieHandshakeStore(cfg Config) *CookieHandshakeStore {
	cfg.EnsureDefaults()
	return &CookieHandshakeStore{
		Key:    []byte(cfg.JWTSecretKey),
		TTL:    cfg.HandshakeTTL,
		Secure: cfg.Production,
		now:    time.Now,
	}
}

func (s *CookieHandshakeStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *CookieHandshakeStore) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *CookieHandshakeStore) Save(w http.ResponseWriter, r *http.Request, state *HandshakeState) error {
	issued := state.IssuedAt
	if issued.IsZero() {
		issued = s.clock()
	}
	claims := &handshakeClaims{
		RequestToken: state.RequestToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(state.UserID, 10),
			Audience:  jwt.ClaimStrings{handshakeAudience},
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.TTL)),
		},
	}
	binding, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Key)
	if err != nil {
		return fmt.Errorf("failed to sign handshake: %w", err)
	}
	maxAge := int(s.TTL.Seconds())
	http.SetCookie(w, s.cookie(CookieRequestToken, state.RequestToken, maxAge))
	http.SetCookie(w, s.cookie(CookieRequestTokenSecret, state.RequestTokenSecret, maxAge))
	http.SetCookie(w, s.cookie(CookieLinkUserID, binding, maxAge))
	return nil
}

func (s *CookieHandshakeStore) Load(r *http.Request) (*HandshakeState, error) {
	token, err1 := r.Cookie(CookieRequestToken)
	secret, err2 := r.Cookie(CookieRequestTokenSecret)
	binding, err3 := r.Cookie(CookieLinkUserID)
	if err1 != nil || err2 != nil || err3 != nil || token.Value == "" || binding.Value == "" {
		return nil, fmt.Errorf("%w: no link in progress", ErrUnauthorized)
	}

	claims := &handshakeClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(handshakeAudience),
		jwt.WithTimeFunc(s.clock),
	)
	if _, err := parser.ParseWithClaims(binding.Value, claims, func(*jwt.Token) (any, error) { return s.Key, nil }); err != nil {
		return nil, fmt.Errorf("%w: handshake binding rejected: %v", ErrUnauthorized, err)
	}
	if !tokensEqual(claims.RequestToken, token.Value) {
		return nil, fmt.Errorf("%w: handshake binding does not match request token", ErrUnauthorized)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: handshake binding has no user", ErrUnauthorized)
	}
	state := &HandshakeState{
		RequestToken:       token.Value,
		RequestTokenSecret: secret.Value,
		UserID:             userID,
	}
	if claims.IssuedAt != nil {
		state.IssuedAt = claims.IssuedAt.Time
	}
	return state, nil
}

func (s *CookieHandshakeStore) Clear(w http.ResponseWriter, r *http.Request) error {
	for _, name := range []string{CookieRequestToken, CookieRequestTokenSecret, CookieLinkUserID} {
		http.SetCookie(w, s.cookie(name, "", -1))
	}
	return nil
}

// SessionHandshakeStore keeps the handshake in a server side scs session.
// Routes using it must be wrapped in Sessions.LoadAndSave.
type SessionHandshakeStore struct {
	Sessions *scs.SessionManager
}

const (
	sessKeyRequestToken  = "discogs.request_token"
	sessKeyRequestSecret = "discogs.request_token_secret"
	sessKeyUserID        = "discogs.user_id"
	sessKeyIssuedAt      = "discogs.issued_at"
)

func (s *SessionHandshakeStore) Save(w http.ResponseWriter, r *http.Request, state *HandshakeState) error {
	ctx := r.Context()
	// New privilege level for this session, so rotate its token.
	if err := s.Sessions.RenewToken(ctx); err != nil {
		return fmt.Errorf("failed to renew session: %w", err)
	}
	issued := state.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	s.Sessions.Put(ctx, sessKeyRequestToken, state.RequestToken)
	s.Sessions.Put(ctx, sessKeyRequestSecret, state.RequestTokenSecret)
	s.Sessions.Put(ctx, sessKeyUserID, state.UserID)
	s.Sessions.Put(ctx, sessKeyIssuedAt, issued.Unix())
	return nil
}

func (s *SessionHandshakeStore) Load(r *http.Request) (*HandshakeState, error) {
	ctx := r.Context()
	if !s.Sessions.Exists(ctx, sessKeyRequestToken) {
		return nil, fmt.Errorf("%w: no link in progress", ErrUnauthorized)
	}
	state := &HandshakeState{
		RequestToken:       s.Sessions.GetString(ctx, sessKeyRequestToken),
		RequestTokenSecret: s.Sessions.GetString(ctx, sessKeyRequestSecret),
		UserID:             s.Sessions.GetInt64(ctx, sessKeyUserID),
	}
	if issued := s.Sessions.GetInt64(ctx, sessKeyIssuedAt); issued > 0 {
		state.IssuedAt = time.Unix(issued, 0)
	}
	if state.RequestToken == "" || state.UserID <= 0 {
		return nil, fmt.Errorf("%w: incomplete handshake state", ErrUnauthorized)
	}
	return state, nil
}

func (s *SessionHandshakeStore) Clear(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	for _, key := range []string{sessKeyRequestToken, sessKeyRequestSecret, sessKeyUserID, sessKeyIssuedAt} {
		s.Sessions.Remove(ctx, key)
	}
	return nil
}
