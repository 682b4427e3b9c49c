package grpc

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/metadata"

	va "github.com/vascoliveira2511/vinylauth"
)

// stubVerifier accepts exactly one token.
type stubVerifier struct {
	token  string
	claims *va.Claims
}

func (v *stubVerifier) Verify(token string) (*va.Claims, error) {
	if token != v.token {
		return nil, errors.New("bad token")
	}
	return v.claims, nil
}

func TestEnsureDefaults(t *testing.T) {
	config := &Config{}
	config.EnsureDefaults()
	if config.MetadataKeyUserID != DefaultMetadataKeyUserID {
		t.Errorf("expected MetadataKeyUserID %q, got %q", DefaultMetadataKeyUserID, config.MetadataKeyUserID)
	}
	if config.MetadataKeySessionToken != DefaultMetadataKeySessionToken {
		t.Errorf("expected MetadataKeySessionToken %q, got %q", DefaultMetadataKeySessionToken, config.MetadataKeySessionToken)
	}
}

func TestUserIDFromContext_NoMetadata(t *testing.T) {
	if id := UserIDFromContext(context.Background()); id != 0 {
		t.Errorf("expected no user, got %d", id)
	}
}

func TestUserIDFromContext_WithUserID(t *testing.T) {
	md := metadata.Pairs(DefaultMetadataKeyUserID, "42", DefaultMetadataKeyUsername, "alice")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	if id := UserIDFromContext(ctx); id != 42 {
		t.Errorf("expected user 42, got %d", id)
	}
	p := PrincipalFromMetadata(ctx, nil)
	if p == nil || p.Username != "alice" {
		t.Errorf("expected principal alice, got %+v", p)
	}
}

func TestUserIDFromContext_RejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "abc", "-3", "0"} {
		md := metadata.Pairs(DefaultMetadataKeyUserID, raw)
		ctx := metadata.NewIncomingContext(context.Background(), md)
		if id := UserIDFromContext(ctx); id != 0 {
			t.Errorf("%q: expected no user, got %d", raw, id)
		}
	}
}

func TestUserIDFromContext_PrefersAttachedPrincipal(t *testing.T) {
	md := metadata.Pairs(DefaultMetadataKeyUserID, "42")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	ctx = va.WithPrincipal(ctx, &va.Principal{UserID: 7})

	if id := UserIDFromContext(ctx); id != 7 {
		t.Errorf("expected user 7, got %d", id)
	}
}

func TestPrincipalFromMetadata_WithVerifier(t *testing.T) {
	config := DefaultConfig()
	config.Verifier = &stubVerifier{token: "good", claims: &va.Claims{UserID: 9, Username: "bob"}}

	// a bare user id is ignored once a verifier is configured
	md := metadata.Pairs(DefaultMetadataKeyUserID, "42")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if p := PrincipalFromMetadata(ctx, config); p != nil {
		t.Errorf("expected no principal, got %+v", p)
	}

	md = metadata.Pairs(DefaultMetadataKeySessionToken, "bad")
	ctx = metadata.NewIncomingContext(context.Background(), md)
	if p := PrincipalFromMetadata(ctx, config); p != nil {
		t.Errorf("expected no principal for bad token, got %+v", p)
	}

	md = metadata.Pairs(DefaultMetadataKeySessionToken, "good")
	ctx = metadata.NewIncomingContext(context.Background(), md)
	p := PrincipalFromMetadata(ctx, config)
	if p == nil || p.UserID != 9 || p.Username != "bob" {
		t.Errorf("expected principal 9/bob, got %+v", p)
	}
}

func TestPrincipalToOutgoingContext(t *testing.T) {
	ctx := PrincipalToOutgoingContext(context.Background(), &va.Principal{UserID: 42, Username: "alice"})

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if got := md.Get(DefaultMetadataKeyUserID); len(got) != 1 || got[0] != "42" {
		t.Errorf("expected user id 42, got %v", got)
	}
	if got := md.Get(DefaultMetadataKeyUsername); len(got) != 1 || got[0] != "alice" {
		t.Errorf("expected username alice, got %v", got)
	}

	if PrincipalToOutgoingContext(context.Background(), nil) != context.Background() {
		t.Error("nil principal should leave the context unchanged")
	}
}

func TestSessionTokenToOutgoingContext(t *testing.T) {
	ctx := SessionTokenToOutgoingContext(context.Background(), "tok")
	md, _ := metadata.FromOutgoingContext(ctx)
	if got := md.Get(DefaultMetadataKeySessionToken); len(got) != 1 || got[0] != "tok" {
		t.Errorf("expected token, got %v", got)
	}
}

func TestIsAuthenticated(t *testing.T) {
	if IsAuthenticated(context.Background()) {
		t.Error("expected unauthenticated")
	}
	md := metadata.Pairs(DefaultMetadataKeyUserID, "1")
	if !IsAuthenticated(metadata.NewIncomingContext(context.Background(), md)) {
		t.Error("expected authenticated")
	}
}
