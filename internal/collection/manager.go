package collection

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/org/datacapture/internal/permission"
	"github.com/org/datacapture/internal/storage"
	"github.com/org/datacapture/pkg/models"
	"github.com/rs/zerolog/log"
)

const storageKeyLayout = "20060102150405"

// Store is the storage surface the Manager needs.
type Store interface {
	GetPrincipal(ctx context.Context, id int64) (*models.Principal, error)
	CreateCollection(ctx context.Context, col *models.Collection, defaults []*models.Grant) error
	UpdateCollection(ctx context.Context, col *models.Collection) error
	GetCollection(ctx context.Context, id int64) (*models.Collection, error)
	CollectionNameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	ListCollectionsByOwner(ctx context.Context, ownerID int64) ([]*models.Collection, error)
	DeleteCollection(ctx context.Context, id int64) error
	ListGrants(ctx context.Context, collectionID int64) ([]*models.Grant, error)
	ApplyGrantChanges(ctx context.Context, collectionID int64, changes models.GrantChangeSet) error
}

// Resolver computes effective views.
type Resolver interface {
	Resolve(ctx context.Context, collectionID int64, actor *models.Principal, ownerID int64) (permission.View, error)
}

// VirtualResolver maps virtual kinds to their seeded rows.
type VirtualResolver interface {
	Get(ctx context.Context, kind models.PrincipalKind) (*models.Principal, error)
}

// AuditAppender persists audit events.
type AuditAppender interface {
	Append(ctx context.Context, ev *models.AuditEvent) error
}

// Config holds the key prefixes used when allocating new collections.
type Config struct {
	UserRootPrefix  string
	UniqueKeyPrefix string
}

// Manager creates, edits and removes collections and their grants.
type Manager struct {
	store    Store
	resolver Resolver
	virtuals VirtualResolver
	audit    AuditAppender
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
}

// NewManager creates a collection Manager.
func NewManager(store Store, resolver Resolver, virtuals VirtualResolver, audit AuditAppender, cfg Config) *Manager {
	return &Manager{
		store:    store,
		resolver: resolver,
		virtuals: virtuals,
		audit:    audit,
		cfg:      cfg,
		validate: newValidator(),
		now:      time.Now,
	}
}

// Authorize loads the collection and resolves the actor's view on it, failing with
// ErrPermissionDenied when the view lacks want.
func (m *Manager) Authorize(ctx context.Context, actor *models.Principal, id int64, want permission.Capability) (*models.Collection, permission.View, error) {
	col, err := m.store.GetCollection(ctx, id)
	if err != nil {
		return nil, permission.View{}, fmt.Errorf("collection %d: %w", id, err)
	}
	view, err := m.resolver.Resolve(ctx, col.ID, actor, col.OwnerID)
	if err != nil {
		return nil, permission.View{}, err
	}
	if !view.Allows(want) {
		return nil, view, fmt.Errorf("%s on collection %d: %w", want, id, ErrPermissionDenied)
	}
	return col, view, nil
}

func requireActor(actor *models.Principal) error {
	if actor == nil || actor.Kind.IsVirtual() {
		return fmt.Errorf("login required: %w", ErrPermissionDenied)
	}
	return nil
}

// Create persists a new collection owned by actor together with its two default
// grants.
func (m *Manager) Create(ctx context.Context, actor *models.Principal, spec CreateSpec) (*models.Collection, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	details, err := m.normalize(spec.Details)
	if err != nil {
		return nil, err
	}
	if err := m.checkName(ctx, details.Name, 0); err != nil {
		return nil, err
	}

	defaults, err := m.defaultGrants(ctx, spec)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	col := &models.Collection{
		OwnerID:    actor.ID,
		StorageKey: m.storageKey(actor.ID, now),
		UniqueKey:  m.cfg.UniqueKeyPrefix + uuid.NewString(),
		CreatedAt:  now,
		ModifiedAt: now,
		ModifiedBy: actor.ID,
	}
	details.apply(col)

	if err := m.store.CreateCollection(ctx, col, defaults); err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	collectionsCreated.Inc()
	log.Info().Int64("collection_id", col.ID).Int64("owner_id", col.OwnerID).Msg("collection created")

	m.RecordAction(ctx, &models.AuditEvent{
		Description: col.Name + " has been created",
		OwnerID:     col.OwnerID,
		OperatorID:  actor.ID,
	})
	return col, nil
}

func (m *Manager) checkName(ctx context.Context, name string, excludeID int64) error {
	taken, err := m.store.CollectionNameExists(ctx, name, excludeID)
	if err != nil {
		return fmt.Errorf("checking collection name: %w", err)
	}
	if taken {
		return fmt.Errorf("%q: %w", name, storage.ErrDuplicateName)
	}
	return nil
}

func (m *Manager) defaultGrants(ctx context.Context, spec CreateSpec) ([]*models.Grant, error) {
	overrides := map[models.PrincipalKind]*models.Flags{
		models.KindAllRegistered: spec.AllRegistered,
		models.KindAnonymous:     spec.Anonymous,
	}
	grants := make([]*models.Grant, 0, 2)
	for _, kind := range []models.PrincipalKind{models.KindAllRegistered, models.KindAnonymous} {
		vp, err := m.virtuals.Get(ctx, kind)
		if err != nil {
			return nil, err
		}
		var flags models.Flags
		if f := overrides[kind]; f != nil {
			flags = *f
		}
		grants = append(grants, &models.Grant{
			PrincipalID:   vp.ID,
			PrincipalKind: vp.Kind,
			DisplayName:   vp.DisplayName,
			Indicators:    flags.Indicators(),
		})
	}
	return grants, nil
}

func (m *Manager) storageKey(ownerID int64, at time.Time) string {
	// yyyyMMddHHmmssSSS
	stamp := fmt.Sprintf("%s%03d", at.Format(storageKeyLayout), at.Nanosecond()/int(time.Millisecond))
	return fmt.Sprintf("/%s%d/%s", m.cfg.UserRootPrefix, ownerID, stamp)
}

// Update edits the details of a collection. The storage and unique keys never change.
func (m *Manager) Update(ctx context.Context, actor *models.Principal, id int64, d Details) (*models.Collection, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	col, _, err := m.Authorize(ctx, actor, id, permission.CapUpdate)
	if err != nil {
		return nil, err
	}
	details, err := m.normalize(d)
	if err != nil {
		return nil, err
	}
	if err := m.checkName(ctx, details.Name, col.ID); err != nil {
		return nil, err
	}
	details.apply(col)
	col.ModifiedAt = m.now().UTC()
	col.ModifiedBy = actor.ID

	if err := m.store.UpdateCollection(ctx, col); err != nil {
		return nil, fmt.Errorf("updating collection %d: %w", id, err)
	}
	m.RecordAction(ctx, &models.AuditEvent{
		Description: col.Name + " has been updated",
		OwnerID:     col.OwnerID,
		OperatorID:  actor.ID,
	})
	return col, nil
}

// Delete removes a collection with its grants and datasets.
func (m *Manager) Delete(ctx context.Context, actor *models.Principal, id int64) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	col, _, err := m.Authorize(ctx, actor, id, permission.CapDelete)
	if err != nil {
		return err
	}
	if err := m.store.DeleteCollection(ctx, id); err != nil {
		return fmt.Errorf("deleting collection %d: %w", id, err)
	}
	log.Info().Int64("collection_id", id).Int64("operator_id", actor.ID).Msg("collection deleted")
	m.RecordAction(ctx, &models.AuditEvent{
		Description: col.Name + " has been deleted",
		OwnerID:     col.OwnerID,
		OperatorID:  actor.ID,
	})
	return nil
}

// Get returns a collection the actor may view, with the view itself.
func (m *Manager) Get(ctx context.Context, actor *models.Principal, id int64) (*models.Collection, permission.View, error) {
	return m.Authorize(ctx, actor, id, permission.CapView)
}

// ListOwned returns the actor's own collections, newest first.
func (m *Manager) ListOwned(ctx context.Context, actor *models.Principal) ([]*models.Collection, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	cols, err := m.store.ListCollectionsByOwner(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return cols, nil
}

// RecordAction appends ev to the audit log. Failures are logged and counted but
// never returned.
func (m *Manager) RecordAction(ctx context.Context, ev *models.AuditEvent) {
	if err := m.audit.Append(ctx, ev); err != nil {
		auditFailures.Inc()
		log.Error().Err(err).
			Str("description", ev.Description).
			Int64("owner_id", ev.OwnerID).
			Int64("operator_id", ev.OperatorID).
			Msg("audit write failed")
	}
}
