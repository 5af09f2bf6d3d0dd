package api

import (
	"net/http"

	"github.com/org/datacapture/internal/registry"
)

// RegisterHandler handles POST /v1/collections/:id/register
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := collectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	var req registry.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	col, err := s.registrar.Register(r.Context(), principalFromCtx(r.Context()), id, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": col})
}
