package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/metastore"
	"github.com/stretchr/testify/require"
)

func newTestMetastore(t *testing.T) metastore.Store {
	t.Helper()
	store, err := metastore.OpenEmbedded(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.(*metastore.SQLStore).ApplyMigrations(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTokenGeneratorRoundTrip(t *testing.T) {
	g := NewTokenGenerator()
	raw, hash, err := g.Generate()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, TokenPrefix))
	require.Equal(t, hash, g.Hash(raw))
}

func TestCreateTokenAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	store := newTestMetastore(t)
	user, err := store.CreateUser(ctx, metastore.User{Email: "a@example.com", PasswordHash: "h", IsActive: true})
	require.NoError(t, err)

	svc := NewTokenService(store, time.Minute)
	raw, _, err := svc.CreateToken(ctx, user.ID, "ci", []string{ScopePublishAll}, nil)
	require.NoError(t, err)

	authCtx, err := svc.Authenticate(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, user.ID, authCtx.User.ID)
	require.True(t, authCtx.HasScope(PublishCapability("anything")))
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	ctx := context.Background()
	store := newTestMetastore(t)
	svc := NewTokenService(store, time.Minute)

	_, err := svc.Authenticate(ctx, "repub_does-not-exist")
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.Unauthorized))
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	store := newTestMetastore(t)
	user, err := store.CreateUser(ctx, metastore.User{Email: "a@example.com", PasswordHash: "h", IsActive: true})
	require.NoError(t, err)

	svc := NewTokenService(store, time.Minute)
	past := time.Now().Add(-time.Hour)
	raw, _, err := svc.CreateToken(ctx, user.ID, "ci", []string{ScopeReadAll}, &past)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, raw)
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.Unauthorized))
}

func TestCreateTokenRejectsExpiryBeyondMaxTTL(t *testing.T) {
	ctx := context.Background()
	store := newTestMetastore(t)
	require.NoError(t, store.SetConfig(ctx, "token_max_ttl_days", "30"))
	user, err := store.CreateUser(ctx, metastore.User{Email: "a@example.com", PasswordHash: "h", IsActive: true})
	require.NoError(t, err)

	svc := NewTokenService(store, time.Minute)
	tooFar := time.Now().Add(60 * 24 * time.Hour)
	_, _, err = svc.CreateToken(ctx, user.ID, "ci", []string{ScopeReadAll}, &tooFar)
	require.Error(t, err)
	require.True(t, apierr.Is(err, apierr.BadRequest))

	withinBound := time.Now().Add(10 * 24 * time.Hour)
	_, _, err = svc.CreateToken(ctx, user.ID, "ci2", []string{ScopeReadAll}, &withinBound)
	require.NoError(t, err)
}

func TestHasScopeEvaluation(t *testing.T) {
	cases := []struct {
		name   string
		scopes []string
		cap    Capability
		want   bool
	}{
		{"admin covers publish", []string{ScopeAdmin}, PublishCapability("x"), true},
		{"publish:all covers any package", []string{ScopePublishAll}, PublishCapability("anything"), true},
		{"publish:pkg exact match", []string{ScopePublishPackage("foo")}, PublishCapability("foo"), true},
		{"publish:pkg wrong package", []string{ScopePublishPackage("foo")}, PublishCapability("bar"), false},
		{"read:all covers read", []string{ScopeReadAll}, ReadCapability(), true},
		{"no scopes", nil, PublishCapability("foo"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, HasScope(tc.scopes, tc.cap))
		})
	}
}

func TestBearerFromHeader(t *testing.T) {
	raw, ok := BearerFromHeader("Bearer repub_abc")
	require.True(t, ok)
	require.Equal(t, "repub_abc", raw)

	_, ok = BearerFromHeader("Basic xyz")
	require.False(t, ok)
}
