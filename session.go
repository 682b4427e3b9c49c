package vinylauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a session token.
type Claims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// SessionService issues and verifies the stateless session tokens carried
// in the session cookie. Tokens are never stored or revoked server side;
// they simply expire.
type SessionService struct {
	key           []byte
	method        jwt.SigningMethod
	issuer        string
	loginTTL      time.Duration
	refreshTTL    time.Duration
	refreshWindow time.Duration
	users         UserStore
	now           func() time.Time
}

type SessionOption func(*SessionService)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

// NewSessionService fails when the signing configuration is unusable. The
// server treats that as fatal at startup.
func NewSessionService(cfg Config, users UserStore, opts ...SessionOption) (*SessionService, error) {
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &SessionService{
		key:           []byte(cfg.JWTSecretKey),
		method:        signingMethod(cfg.JWTSigningAlg),
		issuer:        cfg.JWTIssuer,
		loginTTL:      cfg.LoginTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		refreshWindow: cfg.RefreshWindow,
		users:         users,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func signingMethod(alg string) jwt.SigningMethod {
	switch alg {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	}
	return jwt.SigningMethodHS256
}

func (s *SessionService) LoginTTL() time.Duration   { return s.loginTTL }
func (s *SessionService) RefreshTTL() time.Duration { return s.refreshTTL }

// Issue signs a token for the user that expires after ttl.
func (s *SessionService) Issue(userID int64, username string, ttl time.Duration) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: user id must be positive", ErrMalformed)
	}
	now := s.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, claims.ExpiresAt.Time, nil
}

// Verify checks signature, algorithm and expiry.
func (s *SessionService) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if _, err := parser.ParseWithClaims(token, claims, s.keyFunc); err != nil {
		return nil, classifyTokenError(err)
	}
	if err := s.checkClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Decode reads the claims without checking the signature or expiry. The
// result is for display and client side bookkeeping only and must never be
// used to authorize anything.
func (s *SessionService) Decode(token string) (*Claims, error) {
	return DecodeClaims(token)
}

func DecodeClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

// Refresh exchanges a token for a fresh one valid for the refresh TTL. An
// expired but authentic token is accepted as long as it expired within the
// refresh window. Any other failure, and a user that no longer exists,
// rejects the refresh.
func (s *SessionService) Refresh(ctx context.Context, token string) (string, time.Time, *Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(token, claims, s.keyFunc); err != nil {
		return "", time.Time{}, nil, classifyTokenError(err)
	}
	if claims.ExpiresAt == nil {
		return "", time.Time{}, nil, fmt.Errorf("%w: token has no expiry", ErrMalformed)
	}
	if err := s.checkClaims(claims); err != nil {
		return "", time.Time{}, nil, err
	}
	if s.refreshWindow > 0 && s.now().Sub(claims.ExpiresAt.Time) > s.refreshWindow {
		return "", time.Time{}, nil, fmt.Errorf("%w: token is past the refresh window", ErrExpired)
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, nil, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
		}
		return "", time.Time{}, nil, err
	}

	fresh, expiresAt, err := s.Issue(user.ID, user.Username, s.refreshTTL)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	out := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return fresh, expiresAt, out, nil
}

func (s *SessionService) keyFunc(*jwt.Token) (any, error) {
	return s.key, nil
}

func (s *SessionService) checkClaims(claims *Claims) error {
	if claims.UserID <= 0 {
		return fmt.Errorf("%w: token has no user id", ErrMalformed)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return fmt.Errorf("%w: unexpected issuer %q", ErrInvalidCredential, claims.Issuer)
	}
	return nil
}

// classifyTokenError maps jwt parse failures onto our error kinds. The jwt
// parser checks the signature before any claim, so an expiry error always
// belongs to an authentic token.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	}
	return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
}
