package api

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/org/datacapture/pkg/models"
)

type principalCreateRequest struct {
	DisplayName string               `json:"display_name" validate:"required,max=255"`
	Email       string               `json:"email" validate:"required,email"`
	Kind        models.PrincipalKind `json:"kind"`
}

// PrincipalCreateHandler handles POST /v1/principals
func (s *Server) PrincipalCreateHandler(w http.ResponseWriter, r *http.Request) {
	actor := principalFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !actor.Kind.IsAdmin() {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	var req principalCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate.Struct(req); err != nil {
		var msgs []string
		for _, fe := range err.(validator.ValidationErrors) {
			msgs = append(msgs, fe.Error())
		}
		writeError(w, http.StatusBadRequest, msgs...)
		return
	}

	if req.Kind == "" {
		req.Kind = models.KindOrdinary
	}
	switch {
	case !req.Kind.Valid() || req.Kind.IsVirtual():
		writeError(w, http.StatusBadRequest, "kind must be ordinary, admin or super_admin")
		return
	case req.Kind == models.KindSuperAdmin && actor.Kind != models.KindSuperAdmin:
		writeError(w, http.StatusForbidden, "only a super admin can create super admins")
		return
	}

	p := &models.Principal{DisplayName: req.DisplayName, Email: req.Email, Kind: req.Kind}
	if err := s.store.CreatePrincipal(r.Context(), p); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": p})
}

// PrincipalSelfHandler handles GET /v1/principals/self
func (s *Server) PrincipalSelfHandler(w http.ResponseWriter, r *http.Request) {
	actor := principalFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": actor})
}
