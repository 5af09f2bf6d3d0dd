package api

import (
	"fmt"
	"net/http"

	"github.com/org/datacapture/pkg/models"
)

// PermissionsListHandler handles GET /v1/collections/:id/permissions
func (s *Server) PermissionsListHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := collectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	assigned, err := s.collections.Permissions(r.Context(), principalFromCtx(r.Context()), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": assigned})
}

// PermissionsEffectiveHandler handles GET /v1/collections/:id/permissions/effective
// and reports what the caller may do, even if that is nothing.
func (s *Server) PermissionsEffectiveHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := collectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	col, err := s.store.GetCollection(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, fmt.Errorf("collection %d: %w", id, err))
		return
	}
	view, err := s.engine.Resolve(r.Context(), col.ID, principalFromCtx(r.Context()), col.OwnerID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": view})
}

// PermissionsUpdateHandler handles POST /v1/collections/:id/permissions
func (s *Server) PermissionsUpdateHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := collectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	var changes models.GrantChangeSet
	if err := decodeJSON(r, &changes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.collections.UpdatePermissions(r.Context(), principalFromCtx(r.Context()), id, changes); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
