package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/org/datacapture/internal/storage"
	"github.com/org/datacapture/pkg/models"
)

// Store is the storage surface the Recorder needs.
type Store interface {
	WriteAuditEvent(ctx context.Context, ev *models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error)
}

// WriteError is returned when an audit event could not be persisted.
type WriteError struct {
	Description string
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing audit event %q: %v", e.Description, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Recorder appends audit events. Events are never updated or deleted.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder creates an audit Recorder.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Append stamps the event time if unset and writes it synchronously.
func (r *Recorder) Append(ctx context.Context, ev *models.AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	if err := r.store.WriteAuditEvent(ctx, ev); err != nil {
		return &WriteError{Description: ev.Description, Err: err}
	}
	return nil
}

// Query retrieves paginated audit events, newest first.
func (r *Recorder) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEvent, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return r.store.QueryAuditEvents(ctx, filter)
}
