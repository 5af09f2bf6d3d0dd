package api

import (
	"net/http"

	"github.com/org/datacapture/internal/collection"
)

// CollectionCreateHandler handles POST /v1/collections
func (s *Server) CollectionCreateHandler(w http.ResponseWriter, r *http.Request) {
	var spec collection.CreateSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	col, err := s.collections.Create(r.Context(), principalFromCtx(r.Context()), spec)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": col})
}

// CollectionListHandler handles GET /v1/collections
func (s *Server) CollectionListHandler(w http.ResponseWriter, r *http.Request) {
	cols, err := s.collections.ListOwned(r.Context(), principalFromCtx(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": cols})
}

// CollectionGetHandler handles GET /v1/collections/:id
func (s *Server) CollectionGetHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := collectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	col, view, err := s.collections.Get(r.Context(), principalFromCtx(r.Context()), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": col, "permissions": view})
}

// CollectionUpdateHandler handles PUT /v1/collections/:id
func (s *Server) CollectionUpdateHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := collectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	var d collection.Details
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	col, err := s.collections.Update(r.Context(), principalFromCtx(r.Context()), id, d)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": col})
}

// CollectionDeleteHandler handles DELETE /v1/collections/:id
func (s *Server) CollectionDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := collectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	if err := s.collections.Delete(r.Context(), principalFromCtx(r.Context()), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
