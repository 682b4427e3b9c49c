// Package grpc carries the identity verified by the vinylauth gate from the
// HTTP tier into downstream gRPC services (collections, friends, comments)
// through call metadata.
package grpc

import (
	"context"
	"strconv"

	"google.golang.org/grpc/metadata"

	va "github.com/vascoliveira2511/vinylauth"
)

// Default metadata keys for authentication context.
const (
	// DefaultMetadataKeyUserID carries the id of the authenticated user
	DefaultMetadataKeyUserID = "x-user-id"

	// DefaultMetadataKeyUsername carries the username, informational only
	DefaultMetadataKeyUsername = "x-username"

	// DefaultMetadataKeySessionToken carries the raw session token for
	// services that verify it themselves
	DefaultMetadataKeySessionToken = "x-session-token"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	MetadataKeyUserID       string
	MetadataKeyUsername     string
	MetadataKeySessionToken string

	// Verifier, when set, makes the session token the only accepted
	// credential. The user id key is then ignored, the same way the HTTP
	// gate ignores a client supplied X-User-Id.
	Verifier va.TokenVerifier
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyUserID:       DefaultMetadataKeyUserID,
		MetadataKeyUsername:     DefaultMetadataKeyUsername,
		MetadataKeySessionToken: DefaultMetadataKeySessionToken,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
	if c.MetadataKeyUsername == "" {
		c.MetadataKeyUsername = DefaultMetadataKeyUsername
	}
	if c.MetadataKeySessionToken == "" {
		c.MetadataKeySessionToken = DefaultMetadataKeySessionToken
	}
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// PrincipalFromMetadata reads the caller identity from incoming metadata.
// It returns nil when the call is unauthenticated or the credential does
// not verify.
func PrincipalFromMetadata(ctx context.Context, config *Config) *va.Principal {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}

	if config.Verifier != nil {
		token := first(md, config.MetadataKeySessionToken)
		if token == "" {
			return nil
		}
		claims, err := config.Verifier.Verify(token)
		if err != nil {
			return nil
		}
		return va.PrincipalFromClaims(claims)
	}

	id, err := strconv.ParseInt(first(md, config.MetadataKeyUserID), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &va.Principal{UserID: id, Username: first(md, config.MetadataKeyUsername)}
}

// UserIDFromContext returns the authenticated user id, or 0. It prefers a
// principal already attached by the interceptor and falls back to the raw
// metadata.
func UserIDFromContext(ctx context.Context) int64 {
	if id := va.UserIDFromContext(ctx); id != 0 {
		return id
	}
	if p := PrincipalFromMetadata(ctx, nil); p != nil {
		return p.UserID
	}
	return 0
}

// PrincipalToOutgoingContext forwards p to the next service.
func PrincipalToOutgoingContext(ctx context.Context, p *va.Principal) context.Context {
	if p == nil {
		return ctx
	}
	pairs := []string{DefaultMetadataKeyUserID, strconv.FormatInt(p.UserID, 10)}
	if p.Username != "" {
		pairs = append(pairs, DefaultMetadataKeyUsername, p.Username)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// SessionTokenToOutgoingContext forwards the raw session token.
func SessionTokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySessionToken, token)
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != 0
}
