package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/datacapture/internal/storage"
	"github.com/org/datacapture/pkg/models"
)

// GrantGetter is the minimal interface the Engine needs from storage.
type GrantGetter interface {
	GetGrant(ctx context.Context, collectionID, principalID int64) (*models.Grant, error)
}

// VirtualResolver maps a virtual kind to its seeded principal row.
type VirtualResolver interface {
	Get(ctx context.Context, kind models.PrincipalKind) (*models.Principal, error)
}

// ResolutionError wraps any failure that prevented a view from being computed.
type ResolutionError struct {
	CollectionID int64
	Err          error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving permissions for collection %d: %v", e.CollectionID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Engine computes the effective permissions of a principal on a collection.
type Engine struct {
	grants   GrantGetter
	virtuals VirtualResolver
}

// NewEngine creates a new permission Engine.
func NewEngine(grants GrantGetter, virtuals VirtualResolver) *Engine {
	return &Engine{grants: grants, virtuals: virtuals}
}

// Resolve returns the effective view for actor on the collection. A nil actor is an
// unauthenticated request. Rules are evaluated in order and the first match wins:
//
//  1. no actor: the anonymous principal's grant, or nothing
//  2. actor owns the collection: everything
//  3. actor is an admin or super admin: everything
//  4. actor has a grant row: that row as stored, even if it allows nothing
//  5. otherwise: the all-registered principal's grant
func (e *Engine) Resolve(ctx context.Context, collectionID int64, actor *models.Principal, ownerID int64) (View, error) {
	v, err := e.resolve(ctx, collectionID, actor, ownerID)
	if err != nil {
		return View{}, &ResolutionError{CollectionID: collectionID, Err: err}
	}
	resolutionsTotal.WithLabelValues(string(v.Source)).Inc()
	return v, nil
}

func (e *Engine) resolve(ctx context.Context, collectionID int64, actor *models.Principal, ownerID int64) (View, error) {
	if actor == nil {
		flags, found, err := e.virtualGrant(ctx, collectionID, models.KindAnonymous)
		if err != nil {
			return View{}, err
		}
		if !found {
			return View{Source: SourceNone}, nil
		}
		return View{Flags: flags, Source: SourceInheritedAnonymous}, nil
	}

	if actor.ID == ownerID {
		return View{Flags: models.FullFlags(), Source: SourceOwnerFull}, nil
	}

	if actor.Kind.IsAdmin() {
		return View{Flags: models.FullFlags(), Source: SourceAdminFull}, nil
	}

	g, err := e.grants.GetGrant(ctx, collectionID, actor.ID)
	switch {
	case err == nil:
		return View{Flags: Normalize(g.Indicators), Source: SourceDirectGrant}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return View{}, err
	}

	flags, _, err := e.virtualGrant(ctx, collectionID, models.KindAllRegistered)
	if err != nil {
		return View{}, err
	}
	return View{Flags: flags, Source: SourceInheritedAllRegistered}, nil
}

// virtualGrant loads the grant of a virtual principal. found is false when the
// collection has no row for it.
func (e *Engine) virtualGrant(ctx context.Context, collectionID int64, kind models.PrincipalKind) (models.Flags, bool, error) {
	vp, err := e.virtuals.Get(ctx, kind)
	if err != nil {
		return models.Flags{}, false, err
	}
	g, err := e.grants.GetGrant(ctx, collectionID, vp.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Flags{}, false, nil
		}
		return models.Flags{}, false, err
	}
	return Normalize(g.Indicators), true, nil
}

// Normalize decodes stored indicators. Any nonzero value means allowed.
func Normalize(in models.Indicators) models.Flags {
	return models.Flags{
		View:       in.View != 0,
		Update:     in.Update != 0,
		Import:     in.Import != 0,
		Export:     in.Export != 0,
		Delete:     in.Delete != 0,
		MDRegister: in.MDRegister != 0,
		RAC:        in.RAC != 0,
	}
}
