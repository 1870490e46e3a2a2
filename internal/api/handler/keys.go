package handler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/fleetsignal/internal/api/middleware"
	"github.com/kiranshivaraju/fleetsignal/internal/api/response"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefix     = "fs_"
	maxKeyNameLen = 100
)

var validScopes = map[string]bool{
	models.ScopeRun:   true,
	models.ScopeView:  true,
	models.ScopeAdmin: true,
}

// NewAPIKey generates a random key and its stored form. The raw key is only
// ever returned here.
func NewAPIKey(name string, scopes []string) (string, *models.APIKey, error) {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	raw := keyPrefix + hex.EncodeToString(b[:])

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}
	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// KeysHandler administers API keys.
type KeysHandler struct {
	store store.Store
}

func NewKeysHandler(s store.Store) *KeysHandler {
	return &KeysHandler{store: s}
}

type createKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type createKeyResponse struct {
	Key    string         `json:"key"`
	APIKey *models.APIKey `json:"api_key"`
}

// Create handles POST /api/v1/admin/keys.
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	problems := map[string]string{}
	if req.Name == "" || len(req.Name) > maxKeyNameLen {
		problems["name"] = fmt.Sprintf("name is required and at most %d characters", maxKeyNameLen)
	}
	if len(req.Scopes) == 0 {
		problems["scopes"] = "at least one scope is required"
	}
	for _, s := range req.Scopes {
		if !validScopes[s] {
			problems["scopes"] = fmt.Sprintf("unknown scope %q; valid scopes are run, view, admin", s)
		}
	}
	if len(problems) > 0 {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid API key request", problems)
		return
	}

	raw, key, err := NewAPIKey(req.Name, req.Scopes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, createKeyResponse{Key: raw, APIKey: key})
}

// List handles GET /api/v1/admin/keys.
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.JSON(w, keys)
}

// Revoke handles DELETE /api/v1/admin/keys/{keyID}.
func (h *KeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "keyID must be a UUID", nil)
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found", nil)
			return
		}
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}
