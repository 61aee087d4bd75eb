// Package registryhandler exposes the keyring registry surface over HTTP:
// keyring lifecycle, attribute access, key import and the merged identity
// listing. It is the only mutation path into keyring state the UI layer may
// use.
package registryhandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/keyring-registry/interfaces"
	"github.com/ruteri/keyring-registry/registry"
)

// Handler processes HTTP requests against one keyring registry.
type Handler struct {
	registry *registry.Registry
	log      *slog.Logger
}

// NewHandler creates a new HTTP request handler for the registry service.
func NewHandler(reg *registry.Registry, log *slog.Logger) *Handler {
	return &Handler{
		registry: reg,
		log:      log,
	}
}

// RegisterRoutes configures the HTTP router with registry endpoints:
//   - GET    /api/keyrings - list keyrings with attributes
//   - PUT    /api/keyrings/{keyring_id} - create a keyring
//   - DELETE /api/keyrings/{keyring_id} - delete a keyring
//   - GET    /api/keyrings/{keyring_id} - one keyring with attributes
//   - POST   /api/keyrings/{keyring_id}/attributes - merge attributes
//   - GET    /api/keyrings/{keyring_id}/identities - per-keyring identities
//   - POST   /api/keyrings/{keyring_id}/keys - import armored key material
//   - GET    /api/identities - merged cross-keyring identity listing
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/keyrings", h.HandleListKeyrings)
	r.Put("/api/keyrings/{keyring_id}", h.HandleCreateKeyring)
	r.Delete("/api/keyrings/{keyring_id}", h.HandleDeleteKeyring)
	r.Get("/api/keyrings/{keyring_id}", h.HandleGetKeyring)
	r.Post("/api/keyrings/{keyring_id}/attributes", h.HandleSetAttributes)
	r.Get("/api/keyrings/{keyring_id}/identities", h.HandleKeyringIdentities)
	r.Post("/api/keyrings/{keyring_id}/keys", h.HandleImportKey)
	r.Get("/api/identities", h.HandleAllIdentities)
}

// HandleListKeyrings returns every live keyring with its attributes.
func (h *Handler) HandleListKeyrings(w http.ResponseWriter, r *http.Request) {
	keyrings := h.registry.GetAll()

	response := ListKeyringsResponse{Keyrings: make([]KeyringResponse, 0, len(keyrings))}
	for _, kr := range keyrings {
		attrs, err := h.registry.GetKeyringAttrs(kr.ID())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		response.Keyrings = append(response.Keyrings, KeyringResponse{ID: kr.ID(), Attributes: attrs})
	}

	h.writeJSON(w, response)
}

// HandleCreateKeyring creates a keyring with the identifier from the URL.
func (h *Handler) HandleCreateKeyring(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.NewKeyringID(chi.URLParam(r, "keyring_id"))
	if err != nil {
		http.Error(w, "Invalid keyring identifier", http.StatusBadRequest)
		return
	}

	kr, err := h.registry.CreateKeyring(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	attrs, err := h.registry.GetKeyringAttrs(kr.ID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	h.writeJSON(w, KeyringResponse{ID: kr.ID(), Attributes: attrs})
}

// HandleDeleteKeyring deletes the keyring from the URL, durable key
// material included.
func (h *Handler) HandleDeleteKeyring(w http.ResponseWriter, r *http.Request) {
	id := interfaces.KeyringID(chi.URLParam(r, "keyring_id"))

	if err := h.registry.DeleteKeyring(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleGetKeyring returns one keyring with its attributes.
func (h *Handler) HandleGetKeyring(w http.ResponseWriter, r *http.Request) {
	id := interfaces.KeyringID(chi.URLParam(r, "keyring_id"))

	kr, err := h.registry.GetByID(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	attrs, err := h.registry.GetKeyringAttrs(kr.ID())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, KeyringResponse{ID: kr.ID(), Attributes: attrs})
}

// HandleSetAttributes merges the posted partial record into the keyring's
// attributes.
func (h *Handler) HandleSetAttributes(w http.ResponseWriter, r *http.Request) {
	id := interfaces.KeyringID(chi.URLParam(r, "keyring_id"))

	var req SetAttributesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.registry.SetKeyringAttr(r.Context(), id, req.Attributes); err != nil {
		h.writeError(w, r, err)
		return
	}

	attrs, err := h.registry.GetKeyringAttrs(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, KeyringResponse{ID: id, Attributes: attrs})
}

// HandleKeyringIdentities returns the deduplicated, sorted identities of
// one keyring.
func (h *Handler) HandleKeyringIdentities(w http.ResponseWriter, r *http.Request) {
	id := interfaces.KeyringID(chi.URLParam(r, "keyring_id"))

	kr, err := h.registry.GetByID(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	identities, err := kr.GetIdentities(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, IdentitiesResponse{Identities: identities})
}

// HandleImportKey imports ASCII-armored key material into one keyring.
func (h *Handler) HandleImportKey(w http.ResponseWriter, r *http.Request) {
	id := interfaces.KeyringID(chi.URLParam(r, "keyring_id"))

	var req ImportKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Armored == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	kr, err := h.registry.GetByID(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := kr.ImportArmored(r.Context(), req.Armored); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleAllIdentities returns the merged cross-keyring identity listing.
func (h *Handler) HandleAllIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := h.registry.GetAllKeyUserID(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, IdentitiesResponse{Identities: identities})
}

// writeJSON encodes the response as JSON.
func (h *Handler) writeJSON(w http.ResponseWriter, response any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// writeError maps the registry error taxonomy to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interfaces.ErrUnknownKeyring):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrKeyringExists):
		status = http.StatusConflict
	case errors.Is(err, interfaces.ErrImportUnsupported):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrDaemonUnavailable), errors.Is(err, interfaces.ErrStorageUnavailable):
		status = http.StatusBadGateway
	}

	h.log.Error("Registry request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		"err", err)
	http.Error(w, err.Error(), status)
}
