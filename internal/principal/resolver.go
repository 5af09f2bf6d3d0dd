package principal

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/datacapture/internal/storage"
	"github.com/org/datacapture/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrNotVirtual is returned when a non-virtual kind is passed to the resolver.
var ErrNotVirtual = errors.New("principal kind is not virtual")

// VirtualGetter is the minimal interface the Resolver needs from storage.
type VirtualGetter interface {
	GetVirtualPrincipal(ctx context.Context, kind models.PrincipalKind) (*models.Principal, error)
}

// Resolver maps the all-registered and anonymous kinds to their seeded rows.
// It never creates rows; a missing row means the seed did not run.
type Resolver struct {
	store VirtualGetter
}

// NewResolver creates a Resolver backed by the given storage.
func NewResolver(store VirtualGetter) *Resolver {
	return &Resolver{store: store}
}

// Get returns the singleton row for kind.
func (r *Resolver) Get(ctx context.Context, kind models.PrincipalKind) (*models.Principal, error) {
	if !kind.IsVirtual() {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotVirtual)
	}
	p, err := r.store.GetVirtualPrincipal(ctx, kind)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("virtual principal %s not seeded: %w", kind, err)
		}
		return nil, fmt.Errorf("looking up virtual principal %s: %w", kind, err)
	}
	return p, nil
}

// GranteeID resolves a grantee to the principal row id a grant references.
func (r *Resolver) GranteeID(ctx context.Context, g models.Grantee) (int64, error) {
	if !g.IsVirtual() {
		return g.PrincipalID, nil
	}
	p, err := r.Get(ctx, g.Virtual)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

// Seeder is the storage surface needed to seed principals.
type Seeder interface {
	VirtualGetter
	CreatePrincipal(ctx context.Context, p *models.Principal) error
	GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error)
}

// Bootstrap optionally names a super-admin to create on first start.
type Bootstrap struct {
	AdminEmail string
	AdminName  string
}

var virtualSeeds = []models.Principal{
	{DisplayName: "All Registered Users", Email: "all-registered@virtual.local", Kind: models.KindAllRegistered},
	{DisplayName: "Anonymous", Email: "anonymous@virtual.local", Kind: models.KindAnonymous},
}

// Seed creates the virtual principals and the bootstrap admin if they are missing.
// It is safe to run on every start.
func Seed(ctx context.Context, store Seeder, boot Bootstrap) error {
	for _, seed := range virtualSeeds {
		_, err := store.GetVirtualPrincipal(ctx, seed.Kind)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("checking virtual principal %s: %w", seed.Kind, err)
		}
		p := seed
		if err := store.CreatePrincipal(ctx, &p); err != nil {
			return fmt.Errorf("seeding virtual principal %s: %w", seed.Kind, err)
		}
		log.Info().Str("kind", string(p.Kind)).Int64("id", p.ID).Msg("seeded virtual principal")
	}

	if boot.AdminEmail == "" {
		return nil
	}
	_, err := store.GetPrincipalByEmail(ctx, boot.AdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("checking bootstrap admin: %w", err)
	}
	name := boot.AdminName
	if name == "" {
		name = boot.AdminEmail
	}
	admin := &models.Principal{DisplayName: name, Email: boot.AdminEmail, Kind: models.KindSuperAdmin}
	if err := store.CreatePrincipal(ctx, admin); err != nil {
		return fmt.Errorf("creating bootstrap admin: %w", err)
	}
	log.Info().Str("email", admin.Email).Int64("id", admin.ID).Msg("created bootstrap super admin")
	return nil
}
