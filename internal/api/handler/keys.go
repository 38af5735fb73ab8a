package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/stager/internal/api/middleware"
	"github.com/kiranshivaraju/stager/internal/api/response"
	"github.com/kiranshivaraju/stager/internal/store"
	"github.com/kiranshivaraju/stager/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix starts every generated key.
const APIKeyPrefix = "stg_"

// KeyStore manages API keys.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

var defaultScopes = []string{models.ScopeRead, models.ScopeStage}

// GenerateRawKey returns a fresh random API key.
func GenerateRawKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// NewAPIKey hashes rawKey into a storable key record.
func NewAPIKey(name, rawKey string, scopes []string) (*models.APIKey, error) {
	if len(rawKey) < mw.KeyPrefixLen {
		return nil, fmt.Errorf("api key must be at least %d characters", mw.KeyPrefixLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing api key: %w", err)
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		Scopes:    append([]string{}, scopes...),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type createKeyResponse struct {
	Key    string         `json:"key"`
	APIKey *models.APIKey `json:"api_key"`
}

// KeyHandlers serves the /api/v1/admin/keys routes.
type KeyHandlers struct {
	store KeyStore
}

func NewKeyHandlers(s KeyStore) *KeyHandlers {
	return &KeyHandlers{store: s}
}

// Create handles POST /api/v1/admin/keys. The raw key is only ever returned here.
func (h *KeyHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	var msgs []string
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		msgs = append(msgs, "name is required")
	}
	if len(req.Scopes) == 0 {
		req.Scopes = defaultScopes
	}
	for _, s := range req.Scopes {
		if s != models.ScopeRead && s != models.ScopeStage && s != models.ScopeAdmin {
			msgs = append(msgs, fmt.Sprintf("unknown scope %q", s))
		}
	}
	if len(msgs) > 0 {
		response.ValidationFailed(w, msgs)
		return
	}

	raw, err := GenerateRawKey()
	if err != nil {
		slog.Error("generating api key", "error", err)
		internalError(w)
		return
	}
	key, err := NewAPIKey(req.Name, raw, req.Scopes)
	if err != nil {
		slog.Error("building api key", "error", err)
		internalError(w)
		return
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		slog.Error("storing api key", "error", err)
		internalError(w)
		return
	}

	slog.Info("api key created", "key_id", key.ID, "key_prefix", key.KeyPrefix, "scopes", key.Scopes)
	response.Created(w, createKeyResponse{Key: raw, APIKey: key})
}

// List handles GET /api/v1/admin/keys.
func (h *KeyHandlers) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		slog.Error("listing api keys", "error", err)
		internalError(w)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.Collection(w, keys, response.ListMeta{Count: len(keys)})
}

// Revoke handles DELETE /api/v1/admin/keys/{keyID}. A key cannot revoke itself.
func (h *KeyHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "keyID")
	if !ok {
		return
	}
	if self, ok := mw.GetKeyID(r); ok && self == id {
		response.Error(w, http.StatusConflict, "CANNOT_REVOKE_SELF",
			"The key authenticating this request cannot be revoked", nil)
		return
	}

	err := h.store.RevokeAPIKey(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found", nil)
		return
	}
	if err != nil {
		slog.Error("revoking api key", "error", err, "key_id", id)
		internalError(w)
		return
	}

	slog.Info("api key revoked", "key_id", id)
	w.WriteHeader(http.StatusNoContent)
}
