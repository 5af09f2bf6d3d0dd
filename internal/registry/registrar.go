package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/org/datacapture/internal/collection"
	"github.com/org/datacapture/internal/permission"
	"github.com/org/datacapture/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrRegistrationDisabled is returned when metadata registration is switched off.
var ErrRegistrationDisabled = errors.New("metadata registration is disabled")

// PublishError is returned when the registry rejected or could not receive a
// publication. Nothing has been persisted when it is returned.
type PublishError struct {
	CollectionID int64
	Err          error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing metadata of collection %d: %v", e.CollectionID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Party is a researcher or organisation associated with a collection.
type Party struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Activity is a project or grant that produced a collection.
type Activity struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Rights is the licence statement attached to a publication.
type Rights struct {
	Type      string `json:"type"`
	Statement string `json:"statement,omitempty"`
}

// Request is what a caller supplies to register a collection.
type Request struct {
	Parties    []Party    `json:"parties"`
	Activities []Activity `json:"activities"`
	Rights     Rights     `json:"rights"`
}

// PublishRequest is the payload sent to the registry.
type PublishRequest struct {
	Collection      models.Collection `json:"collection"`
	PersistentID    string            `json:"persistent_id"`
	Parties         []Party           `json:"parties"`
	Activities      []Activity        `json:"activities"`
	Rights          Rights            `json:"rights"`
	AccessRights    string            `json:"access_rights"`
	PhysicalAddress string            `json:"physical_address"`
	ElectronicURL   string            `json:"electronic_url"`
	ANZSRCCode      string            `json:"anzsrc_code,omitempty"`
	GroupName       string            `json:"group_name,omitempty"`
}

// Client delivers publications to the external registry.
type Client interface {
	Publish(ctx context.Context, req *PublishRequest) error
}

// Store is the storage surface the Registrar needs.
type Store interface {
	GetPrincipal(ctx context.Context, id int64) (*models.Principal, error)
	MarkPublished(ctx context.Context, id int64, persistentID string) error
}

// Authorizer loads a collection and checks one capability on it.
type Authorizer interface {
	Authorize(ctx context.Context, actor *models.Principal, id int64, want permission.Capability) (*models.Collection, permission.View, error)
	RecordAction(ctx context.Context, ev *models.AuditEvent)
}

// Resolver computes effective views.
type Resolver interface {
	Resolve(ctx context.Context, collectionID int64, actor *models.Principal, ownerID int64) (permission.View, error)
}

// Config controls registration.
type Config struct {
	Enabled         bool
	AppURL          string
	PhysicalAddress string
	ANZSRCCode      string
	GroupName       string
}

// Registrar publishes collection metadata to the registry.
type Registrar struct {
	store    Store
	auth     Authorizer
	resolver Resolver
	client   Client
	cfg      Config
}

// NewRegistrar creates a Registrar.
func NewRegistrar(store Store, auth Authorizer, resolver Resolver, client Client, cfg Config) *Registrar {
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &Registrar{store: store, auth: auth, resolver: resolver, client: client, cfg: cfg}
}

// Register publishes the collection and marks it published. The registry is called
// first; the collection is only updated once the registry accepted it.
func (r *Registrar) Register(ctx context.Context, actor *models.Principal, collectionID int64, req Request) (*models.Collection, error) {
	if !r.cfg.Enabled {
		return nil, ErrRegistrationDisabled
	}
	if actor == nil || actor.Kind.IsVirtual() {
		return nil, fmt.Errorf("login required: %w", collection.ErrPermissionDenied)
	}
	col, _, err := r.auth.Authorize(ctx, actor, collectionID, permission.CapMDRegister)
	if err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	access, err := r.accessRights(ctx, col)
	if err != nil {
		return nil, err
	}
	pid := col.UniqueKey
	if col.PersistentID != nil && *col.PersistentID != "" {
		pid = *col.PersistentID
	}

	pub := &PublishRequest{
		Collection:      *col,
		PersistentID:    pid,
		Parties:         req.Parties,
		Activities:      req.Activities,
		Rights:          req.Rights,
		AccessRights:    access,
		PhysicalAddress: r.cfg.PhysicalAddress,
		ElectronicURL:   fmt.Sprintf("%s/pub/collections/%d", r.cfg.AppURL, col.ID),
		ANZSRCCode:      r.cfg.ANZSRCCode,
		GroupName:       r.cfg.GroupName,
	}
	if err := r.client.Publish(ctx, pub); err != nil {
		log.Error().Err(err).Int64("collection_id", col.ID).Msg("metadata registration failed")
		return nil, &PublishError{CollectionID: col.ID, Err: err}
	}

	if err := r.store.MarkPublished(ctx, col.ID, pid); err != nil {
		return nil, fmt.Errorf("marking collection %d published: %w", col.ID, err)
	}
	col.Published = true
	col.PersistentID = &pid
	log.Info().Int64("collection_id", col.ID).Str("persistent_id", pid).Msg("collection metadata registered")

	r.auth.RecordAction(ctx, &models.AuditEvent{
		Description: "metadata of " + col.Name + " has been registered",
		OwnerID:     col.OwnerID,
		OperatorID:  actor.ID,
	})
	return col, nil
}

func validate(req Request) error {
	fields := map[string]string{}
	if len(req.Parties) == 0 {
		fields["parties"] = "at least one party is required"
	}
	if strings.TrimSpace(req.Rights.Type) == "" {
		fields["rights"] = "a rights type is required"
	}
	if len(fields) > 0 {
		return &collection.ValidationError{Fields: fields}
	}
	return nil
}

// accessRights summarises who can see the collection, based on what anonymous
// visitors are allowed.
func (r *Registrar) accessRights(ctx context.Context, col *models.Collection) (string, error) {
	anon, err := r.resolver.Resolve(ctx, col.ID, nil, col.OwnerID)
	if err != nil {
		return "", err
	}
	if anon.Allows(permission.CapView) {
		return "This collection is publicly accessible.", nil
	}
	owner, err := r.store.GetPrincipal(ctx, col.OwnerID)
	if err != nil {
		return "", fmt.Errorf("collection owner %d: %w", col.OwnerID, err)
	}
	return fmt.Sprintf("Access to this collection is restricted. Contact %s (%s) to request access.", owner.DisplayName, owner.Email), nil
}
