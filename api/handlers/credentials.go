package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/BaSui01/nodeflow/credentials"
	"github.com/BaSui01/nodeflow/types"
	"go.uber.org/zap"
)

// CredentialStore is the subset of credentials.Store the API exposes.
// Secrets never leave the store through this handler.
type CredentialStore interface {
	Create(ctx context.Context, name, typ, secret string) (string, error)
	List(ctx context.Context) ([]credentials.Info, error)
	Delete(ctx context.Context, id string) error
}

// CredentialsHandler manages encrypted credentials referenced by nodes.
type CredentialsHandler struct {
	store  CredentialStore
	logger *zap.Logger
}

// NewCredentialsHandler creates the handler.
func NewCredentialsHandler(store CredentialStore, logger *zap.Logger) *CredentialsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialsHandler{store: store, logger: logger}
}

// CreateCredentialRequest is the body of POST /api/v1/credentials.
type CreateCredentialRequest struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Secret string `json:"secret"`
}

// HandleCreate 处理 POST /api/v1/credentials，只返回 id
func (h *CredentialsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateCredentialRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	id, err := h.store.Create(r.Context(), req.Name, req.Type, req.Secret)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidInput) {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "name and secret are required"), h.logger)
			return
		}
		WriteErr(w, err, h.logger)
		return
	}
	h.logger.Info("credential created", zap.String("id", id), zap.String("name", req.Name))
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"id": id})
}

// HandleList 处理 GET /api/v1/credentials
func (h *CredentialsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	if list == nil {
		list = []credentials.Info{}
	}
	WriteSuccess(w, map[string]any{"credentials": list})
}

// HandleDelete 处理 DELETE /api/v1/credentials/{id}
func (h *CredentialsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			WriteError(w, types.NewError(types.ErrNotFound, "credential not found"), h.logger)
			return
		}
		WriteErr(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
