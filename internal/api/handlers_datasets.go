package api

import (
	"net/http"

	"github.com/org/datacapture/internal/dataset"
)

// DatasetImportHandler handles POST /v1/collections/:id/datasets
func (s *Server) DatasetImportHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := collectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	var spec dataset.ImportSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ds, err := s.datasets.Import(r.Context(), principalFromCtx(r.Context()), id, spec)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": ds})
}

// DatasetListHandler handles GET /v1/collections/:id/datasets
func (s *Server) DatasetListHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := collectionID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collection id")
		return
	}
	list, err := s.datasets.List(r.Context(), principalFromCtx(r.Context()), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list})
}
