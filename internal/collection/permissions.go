package collection

import (
	"context"
	"fmt"

	"github.com/org/datacapture/internal/permission"
	"github.com/org/datacapture/pkg/models"
)

// AssignedGrant is a grant with its flags decoded.
type AssignedGrant struct {
	GrantID     int64                `json:"grant_id"`
	PrincipalID int64                `json:"principal_id"`
	Kind        models.PrincipalKind `json:"kind"`
	DisplayName string               `json:"display_name"`
	Flags       models.Flags         `json:"flags"`
}

// Assigned groups the grants of one collection by grantee type.
type Assigned struct {
	CollectionID  int64           `json:"collection_id"`
	AllRegistered *AssignedGrant  `json:"all_registered,omitempty"`
	Anonymous     *AssignedGrant  `json:"anonymous,omitempty"`
	Users         []AssignedGrant `json:"users"`
}

// Permissions lists the grants of a collection. Only the owner or an admin may see them.
func (m *Manager) Permissions(ctx context.Context, actor *models.Principal, id int64) (*Assigned, error) {
	if _, err := m.authorizeManage(ctx, actor, id); err != nil {
		return nil, err
	}
	grants, err := m.store.ListGrants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	out := &Assigned{CollectionID: id, Users: []AssignedGrant{}}
	for _, g := range grants {
		ag := AssignedGrant{
			GrantID:     g.ID,
			PrincipalID: g.PrincipalID,
			Kind:        g.PrincipalKind,
			DisplayName: g.DisplayName,
			Flags:       permission.Normalize(g.Indicators),
		}
		switch g.PrincipalKind {
		case models.KindAllRegistered:
			out.AllRegistered = &ag
		case models.KindAnonymous:
			out.Anonymous = &ag
		default:
			out.Users = append(out.Users, ag)
		}
	}
	return out, nil
}

// UpdatePermissions applies a change set of grant inserts, updates and deletes in
// one transaction. Virtual grants can be updated but never inserted or deleted.
func (m *Manager) UpdatePermissions(ctx context.Context, actor *models.Principal, id int64, changes models.GrantChangeSet) error {
	col, err := m.authorizeManage(ctx, actor, id)
	if err != nil {
		return err
	}
	if changes.Empty() {
		return nil
	}

	for _, ins := range changes.Insert {
		p, err := m.store.GetPrincipal(ctx, ins.PrincipalID)
		if err != nil {
			return fmt.Errorf("principal %d: %w", ins.PrincipalID, err)
		}
		if p.Kind.IsVirtual() {
			return invalid("insert", fmt.Sprintf("principal %d is virtual and already has a grant", p.ID))
		}
	}
	if len(changes.Delete) > 0 {
		grants, err := m.store.ListGrants(ctx, id)
		if err != nil {
			return fmt.Errorf("listing grants: %w", err)
		}
		for _, g := range grants {
			if !g.PrincipalKind.IsVirtual() {
				continue
			}
			for _, del := range changes.Delete {
				if del == g.ID {
					return invalid("delete", fmt.Sprintf("grant %d belongs to a virtual principal", g.ID))
				}
			}
		}
	}

	if err := m.store.ApplyGrantChanges(ctx, id, changes); err != nil {
		return fmt.Errorf("applying grant changes to collection %d: %w", id, err)
	}

	m.RecordAction(ctx, &models.AuditEvent{
		Description: "permissions of " + col.Name + " have been changed",
		OwnerID:     col.OwnerID,
		OperatorID:  actor.ID,
	})
	return nil
}

// authorizeManage allows only the owner or an admin through.
func (m *Manager) authorizeManage(ctx context.Context, actor *models.Principal, id int64) (*models.Collection, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	col, err := m.store.GetCollection(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("collection %d: %w", id, err)
	}
	view, err := m.resolver.Resolve(ctx, col.ID, actor, col.OwnerID)
	if err != nil {
		return nil, err
	}
	if !view.Full() {
		return nil, fmt.Errorf("managing permissions of collection %d: %w", id, ErrPermissionDenied)
	}
	return col, nil
}
