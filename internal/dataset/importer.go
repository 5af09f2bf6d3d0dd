package dataset

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/org/datacapture/internal/collection"
	"github.com/org/datacapture/internal/permission"
	"github.com/org/datacapture/internal/storage"
	"github.com/org/datacapture/pkg/models"
	"github.com/rs/zerolog/log"
)

// Restricted access windows are measured in whole days from today.
const (
	minRestrictedDays   = 30
	maxRestrictedMonths = 18
)

// Store is the storage surface the Importer needs.
type Store interface {
	CreateDataset(ctx context.Context, ds *models.Dataset) error
	DatasetNameExists(ctx context.Context, collectionID int64, name string) (bool, error)
	ListDatasets(ctx context.Context, collectionID int64) ([]*models.Dataset, error)
	TouchCollection(ctx context.Context, id, modifiedBy int64, at time.Time) error
}

// Authorizer loads a collection and checks one capability on it.
type Authorizer interface {
	Authorize(ctx context.Context, actor *models.Principal, id int64, want permission.Capability) (*models.Collection, permission.View, error)
	RecordAction(ctx context.Context, ev *models.AuditEvent)
}

// ImportSpec describes a dataset being registered in a collection.
type ImportSpec struct {
	Name            string     `json:"name"`
	Extractable     bool       `json:"extractable"`
	Restricted      bool       `json:"restricted"`
	RestrictedUntil *time.Time `json:"restricted_until,omitempty"`
}

// Importer registers datasets in collections.
type Importer struct {
	store Store
	auth  Authorizer
	now   func() time.Time
}

// NewImporter creates a dataset Importer.
func NewImporter(store Store, auth Authorizer) *Importer {
	return &Importer{store: store, auth: auth, now: time.Now}
}

// Import records a new dataset. The actor needs import on the collection, and rac
// as well when access to the dataset is restricted.
func (im *Importer) Import(ctx context.Context, actor *models.Principal, collectionID int64, spec ImportSpec) (*models.Dataset, error) {
	if actor == nil || actor.Kind.IsVirtual() {
		return nil, fmt.Errorf("login required: %w", collection.ErrPermissionDenied)
	}
	col, view, err := im.auth.Authorize(ctx, actor, collectionID, permission.CapImport)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" || name != path.Base(name) || name == "." || name == ".." {
		return nil, invalid("name", "must be a plain file name")
	}
	taken, err := im.store.DatasetNameExists(ctx, col.ID, name)
	if err != nil {
		return nil, fmt.Errorf("checking dataset name: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%q: %w", name, storage.ErrDuplicateDataset)
	}

	now := im.now()
	var until *time.Time
	if spec.Restricted {
		if !view.Allows(permission.CapRAC) {
			return nil, fmt.Errorf("restricted access on collection %d: %w", col.ID, collection.ErrPermissionDenied)
		}
		end, err := restrictedWindow(now, spec.RestrictedUntil)
		if err != nil {
			return nil, err
		}
		until = &end
	}

	ds := &models.Dataset{
		CollectionID:    col.ID,
		Name:            name,
		StoragePath:     col.StorageKey + "/" + name,
		Extractable:     spec.Extractable,
		RestrictedUntil: until,
		ImportedAt:      now.UTC(),
		ImportedBy:      actor.ID,
	}
	if err := im.store.CreateDataset(ctx, ds); err != nil {
		return nil, fmt.Errorf("creating dataset: %w", err)
	}
	// The dataset is committed; a stale modification stamp is not worth failing for.
	if err := im.store.TouchCollection(ctx, col.ID, actor.ID, now.UTC()); err != nil {
		log.Warn().Err(err).Int64("collection_id", col.ID).Int64("dataset_id", ds.ID).Msg("failed to touch collection after import")
	}
	log.Info().Int64("collection_id", col.ID).Int64("dataset_id", ds.ID).Bool("restricted", until != nil).Msg("dataset imported")

	desc := ds.Name + " has been imported into the " + col.Name
	if until != nil {
		desc += " associated with a restricted access"
	}
	im.auth.RecordAction(ctx, &models.AuditEvent{Description: desc, OwnerID: col.OwnerID, OperatorID: actor.ID})
	return ds, nil
}

// List returns the datasets of a collection the actor may view.
func (im *Importer) List(ctx context.Context, actor *models.Principal, collectionID int64) ([]*models.Dataset, error) {
	col, _, err := im.auth.Authorize(ctx, actor, collectionID, permission.CapView)
	if err != nil {
		return nil, err
	}
	out, err := im.store.ListDatasets(ctx, col.ID)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	return out, nil
}

// restrictedWindow checks a requested end date and returns it moved to the end of
// its day. The end must fall between 30 days and 18 months from today. The calendar
// day is taken in the zone the date was sent in, and today is counted in that zone.
func restrictedWindow(now time.Time, until *time.Time) (time.Time, error) {
	if until == nil {
		return time.Time{}, invalid("restricted_until", "is required for restricted access")
	}
	end := collection.EndOfDay(*until)
	y, m, d := now.In(end.Location()).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, end.Location())

	switch {
	case end.Before(now):
		return time.Time{}, invalid("restricted_until", "has already passed")
	case end.Before(today.AddDate(0, 0, minRestrictedDays)):
		return time.Time{}, invalid("restricted_until", fmt.Sprintf("must be at least %d days from today", minRestrictedDays))
	case end.After(collection.EndOfDay(today.AddDate(0, maxRestrictedMonths, 0))):
		return time.Time{}, invalid("restricted_until", fmt.Sprintf("must be at most %d months from today", maxRestrictedMonths))
	}
	return end.UTC(), nil
}

func invalid(field, msg string) error {
	return &collection.ValidationError{Fields: map[string]string{field: msg}}
}
