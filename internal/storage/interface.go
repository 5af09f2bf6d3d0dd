package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/datacapture/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateName is returned when a collection name is already taken.
var ErrDuplicateName = errors.New("collection name already exists")

// ErrDuplicateGrant is returned when a (collection, principal) pair already has a grant.
var ErrDuplicateGrant = errors.New("grant already exists for principal")

// ErrDuplicateDataset is returned when a dataset name is already used in a collection.
var ErrDuplicateDataset = errors.New("dataset name already exists in collection")

// ErrDuplicateEmail is returned when a principal email is already registered.
var ErrDuplicateEmail = errors.New("principal email already exists")

// StorageBackend defines the persistence interface for the capture service.
type StorageBackend interface {
	// Principals
	CreatePrincipal(ctx context.Context, p *models.Principal) error
	GetPrincipal(ctx context.Context, id int64) (*models.Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error)
	GetVirtualPrincipal(ctx context.Context, kind models.PrincipalKind) (*models.Principal, error)

	// Collections
	CreateCollection(ctx context.Context, col *models.Collection, defaults []*models.Grant) error
	UpdateCollection(ctx context.Context, col *models.Collection) error
	GetCollection(ctx context.Context, id int64) (*models.Collection, error)
	CollectionNameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	ListCollectionsByOwner(ctx context.Context, ownerID int64) ([]*models.Collection, error)
	DeleteCollection(ctx context.Context, id int64) error
	MarkPublished(ctx context.Context, id int64, persistentID string) error
	TouchCollection(ctx context.Context, id, modifiedBy int64, at time.Time) error

	// Grants
	GetGrant(ctx context.Context, collectionID, principalID int64) (*models.Grant, error)
	ListGrants(ctx context.Context, collectionID int64) ([]*models.Grant, error)
	ApplyGrantChanges(ctx context.Context, collectionID int64, changes models.GrantChangeSet) error

	// Datasets
	CreateDataset(ctx context.Context, ds *models.Dataset) error
	DatasetNameExists(ctx context.Context, collectionID int64, name string) (bool, error)
	ListDatasets(ctx context.Context, collectionID int64) ([]*models.Dataset, error)

	// Audit
	WriteAuditEvent(ctx context.Context, ev *models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error)

	// Metrics helpers
	CountCollections(ctx context.Context) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}

// AuditFilter specifies query parameters for audit event retrieval.
type AuditFilter struct {
	OwnerID    int64 // 0 = any
	OperatorID int64 // 0 = any
	Since      *time.Time
	Limit      int
	Offset     int
}
