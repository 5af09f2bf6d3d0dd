package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/org/datacapture/internal/collection"
	"github.com/org/datacapture/internal/permission"
	"github.com/org/datacapture/internal/registry"
	"github.com/org/datacapture/internal/storage"
	"github.com/rs/zerolog/log"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msgs ...string) {
	writeJSON(w, code, map[string]any{"errors": msgs})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func collectionID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		rerr *permission.ResolutionError
		verr *collection.ValidationError
		perr *registry.PublishError
	)
	switch {
	case errors.As(err, &rerr):
		return http.StatusInternalServerError
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrDuplicateName),
		errors.Is(err, storage.ErrDuplicateGrant),
		errors.Is(err, storage.ErrDuplicateDataset),
		errors.Is(err, storage.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, collection.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrRegistrationDisabled):
		return http.StatusNotImplemented
	case errors.As(err, &perr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeDomainError reports err with the status statusFor picks. Validation errors
// list one message per field.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", requestIDFromCtx(r.Context())).Msg("request failed")
	}
	var verr *collection.ValidationError
	if errors.As(err, &verr) {
		msgs := make([]string, 0, len(verr.Fields))
		for field, msg := range verr.Fields {
			msgs = append(msgs, field+" "+msg)
		}
		sort.Strings(msgs)
		writeError(w, code, msgs...)
		return
	}
	writeError(w, code, err.Error())
}
