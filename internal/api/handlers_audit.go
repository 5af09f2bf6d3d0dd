package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/datacapture/internal/storage"
)

// AuditEventsHandler handles GET /v1/audit-events
// Admins may query any owner or operator; everyone else only sees events on
// collections they own.
func (s *Server) AuditEventsHandler(w http.ResponseWriter, r *http.Request) {
	actor := principalFromCtx(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	filter := storage.AuditFilter{Limit: 100}

	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &t
	}
	if v := q.Get("operator_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.OperatorID = n
		}
	}

	if actor.Kind.IsAdmin() {
		if v := q.Get("owner_id"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				filter.OwnerID = n
			}
		}
	} else {
		filter.OwnerID = actor.ID
	}

	events, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events})
}
