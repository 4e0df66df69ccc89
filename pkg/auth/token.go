package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/metastore"
)

// TokenPrefix identifies repub tokens in the raw string so an operator
// can visually recognize them in logs or config.
const TokenPrefix = "repub_"

// tokenByteLength is the random entropy backing a raw token, comfortably
// exceeding a 20-byte minimum.
const tokenByteLength = 32

// TokenGenerator produces and hashes raw token values. Grounded on
// pkg/auth/token.go's TokenGenerator (random bytes -> base64url ->
// sha256 hash), repointed at the repub_ prefix.
type TokenGenerator struct{}

// NewTokenGenerator constructs a TokenGenerator.
func NewTokenGenerator() *TokenGenerator { return &TokenGenerator{} }

// Generate returns a new raw token and its SHA-256 hash. The raw value
// is returned exactly once by the caller's API response; only the hash
// is ever persisted.
func (g *TokenGenerator) Generate() (raw, hash string, err error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token entropy: %w", err)
	}
	raw = TokenPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return raw, g.Hash(raw), nil
}

// Hash computes the at-rest hash of a raw token value.
func (g *TokenGenerator) Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the first few characters after the prefix, for
// identifying a token in listings without ever storing or logging the
// full raw value.
func (g *TokenGenerator) DisplayPrefix(raw string) string {
	encoded := strings.TrimPrefix(raw, TokenPrefix)
	if len(encoded) >= 8 {
		return TokenPrefix + encoded[:8]
	}
	return raw
}

// AuthContext is the resolved identity attached to an authenticated
// request.
type AuthContext struct {
	User  metastore.User
	Token metastore.AuthToken
}

// HasScope reports whether the authenticated context covers capability cap.
func (a AuthContext) HasScope(cap Capability) bool {
	return HasScope(a.Token.Scopes, cap)
}

// Store is the subset of metastore.Store the token service depends on.
type Store interface {
	CreateToken(ctx context.Context, t metastore.AuthToken) (*metastore.AuthToken, error)
	ListTokens(ctx context.Context, userID string) ([]metastore.AuthToken, error)
	DeleteToken(ctx context.Context, id string) error
	GetTokenByHash(ctx context.Context, hash string) (*metastore.AuthToken, error)
	TouchToken(ctx context.Context, hash string, at time.Time) error
	GetUser(ctx context.Context, id string) (*metastore.User, error)
	GetConfig(ctx context.Context, key string) (string, bool, error)
}

// TokenService creates and authenticates tokens against the metadata
// store. Authentication's last-used write is coalesced to at most once
// per touchWindow per token, bounding write amplification.
type TokenService struct {
	store     Store
	generator *TokenGenerator

	touchWindow time.Duration
	mu          sync.Mutex
	lastTouch   map[string]time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(store Store, touchWindow time.Duration) *TokenService {
	if touchWindow <= 0 {
		touchWindow = time.Minute
	}
	return &TokenService{
		store:       store,
		generator:   NewTokenGenerator(),
		touchWindow: touchWindow,
		lastTouch:   map[string]time.Time{},
	}
}

// CreateToken issues a new token for userID, returning the raw value
// exactly once. expiresAt is validated against the configured
// token_max_ttl_days when that site config is set and non-zero.
func (s *TokenService) CreateToken(ctx context.Context, userID, label string, scopes []string, expiresAt *time.Time) (raw string, token *metastore.AuthToken, err error) {
	if err := s.validateExpiry(ctx, expiresAt); err != nil {
		return "", nil, err
	}

	raw, hash, err := s.generator.Generate()
	if err != nil {
		return "", nil, err
	}

	created, err := s.store.CreateToken(ctx, metastore.AuthToken{
		UserID:    userID,
		TokenHash: hash,
		Label:     label,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}
	return raw, created, nil
}

func (s *TokenService) validateExpiry(ctx context.Context, expiresAt *time.Time) error {
	if expiresAt == nil {
		return nil
	}
	raw, ok, err := s.store.GetConfig(ctx, "token_max_ttl_days")
	if err != nil {
		return fmt.Errorf("failed to read token_max_ttl_days: %w", err)
	}
	if !ok {
		return nil
	}
	maxDays, err := strconv.Atoi(raw)
	if err != nil || maxDays == 0 {
		return nil
	}
	maxExpiry := time.Now().Add(time.Duration(maxDays) * 24 * time.Hour)
	if expiresAt.After(maxExpiry) {
		return apierr.New(apierr.BadRequest, fmt.Sprintf("expires_at exceeds the configured maximum of %d days", maxDays))
	}
	return nil
}

// Authenticate looks up raw by its hash, rejecting unknown, expired, or
// inactive-user tokens, and returns the resolved identity. A successful
// lookup emits a coalesced touch of last_used_at.
func (s *TokenService) Authenticate(ctx context.Context, raw string) (*AuthContext, error) {
	hash := s.generator.Hash(raw)
	tok, err := s.store.GetTokenByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tok.ExpiresAt != nil && tok.ExpiresAt.Before(time.Now()) {
		return nil, apierr.New(apierr.Unauthorized, "token expired")
	}

	user, err := s.store.GetUser(ctx, tok.UserID)
	if err != nil {
		return nil, apierr.New(apierr.Unauthorized, "token owner not found")
	}
	if !user.IsActive {
		return nil, apierr.New(apierr.Unauthorized, "user account is inactive")
	}

	s.maybeTouch(ctx, hash)

	return &AuthContext{User: *user, Token: *tok}, nil
}

func (s *TokenService) maybeTouch(ctx context.Context, hash string) {
	now := time.Now()
	s.mu.Lock()
	last, seen := s.lastTouch[hash]
	if seen && now.Sub(last) < s.touchWindow {
		s.mu.Unlock()
		return
	}
	s.lastTouch[hash] = now
	s.mu.Unlock()

	// Best-effort: a failed touch never fails the request it rode in on.
	_ = s.store.TouchToken(ctx, hash, now)
}

// ListTokens lists every token owned by userID.
func (s *TokenService) ListTokens(ctx context.Context, userID string) ([]metastore.AuthToken, error) {
	return s.store.ListTokens(ctx, userID)
}

// DeleteToken revokes a token by id.
func (s *TokenService) DeleteToken(ctx context.Context, id string) error {
	return s.store.DeleteToken(ctx, id)
}

// BearerFromHeader extracts the raw token from an Authorization header
// value of the form "Bearer <token>".
func BearerFromHeader(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix)), true
}
