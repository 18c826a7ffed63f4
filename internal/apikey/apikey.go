// Package apikey issues and verifies tenant API keys and enforces their
// per-key scopes and rate limits.
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
	"ragcore/internal/storage"
)

// tokenPrefix identifies a ragcore-issued key in logs and dashboards
// without revealing any part of the secret itself.
const tokenPrefix = "rck_"

// Issuer creates and verifies API keys against relational storage.
type Issuer struct {
	relational storage.Relational
}

// New creates an Issuer.
func New(relational storage.Relational) *Issuer {
	return &Issuer{relational: relational}
}

// Issued is returned once, at creation time; Token is never recoverable
// afterward since only its bcrypt hash is persisted.
type Issued struct {
	Key   domain.ApiKey
	Token string
}

// Create generates a new API key for tenantID with the given scopes and
// per-window rate limit, persists its hash, and returns the plaintext
// token for the caller to hand to the client exactly once.
func (i *Issuer) Create(ctx context.Context, tenantID, name string, scopes []domain.ApiKeyScope, rateLimit int) (Issued, error) {
	if len(scopes) == 0 {
		return Issued{}, ragerr.New(ragerr.Validation, "api_key_scopes_required", "at least one scope is required")
	}

	token, err := generateToken()
	if err != nil {
		return Issued{}, ragerr.Wrap(ragerr.Internal, "api_key_token_generate", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return Issued{}, ragerr.Wrap(ragerr.Internal, "api_key_hash", err)
	}

	key := domain.ApiKey{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Name:       name,
		SecretHash: string(hash),
		Scopes:     scopes,
		RateLimit:  rateLimit,
		CreatedAt:  time.Now().UTC(),
	}
	if err := i.relational.CreateAPIKey(ctx, key); err != nil {
		return Issued{}, err
	}
	return Issued{Key: key, Token: token}, nil
}

// Verify checks token against the stored key identified by id, confirming
// it is neither revoked nor tampered with, and that it carries required.
func (i *Issuer) Verify(ctx context.Context, id, token string, required domain.ApiKeyScope) (domain.ApiKey, error) {
	key, err := i.relational.GetAPIKey(ctx, id)
	if err != nil {
		return domain.ApiKey{}, err
	}
	if key.RevokedAt != nil {
		return domain.ApiKey{}, ragerr.New(ragerr.Unauthorized, "api_key_revoked", "api key has been revoked")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(token)); err != nil {
		return domain.ApiKey{}, ragerr.New(ragerr.InvalidCredential, "api_key_mismatch", "api key token does not match")
	}
	if !hasScope(key.Scopes, required) {
		return domain.ApiKey{}, ragerr.New(ragerr.PermissionDenied, "api_key_scope_missing", fmt.Sprintf("api key lacks required scope %q", required))
	}
	return key, nil
}

// Revoke disables id so Verify rejects it from now on.
func (i *Issuer) Revoke(ctx context.Context, id string) error {
	return i.relational.RevokeAPIKey(ctx, id)
}

func hasScope(scopes []domain.ApiKeyScope, required domain.ApiKeyScope) bool {
	for _, s := range scopes {
		if s == required || s == domain.ScopeAdmin {
			return true
		}
	}
	return false
}

func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}
