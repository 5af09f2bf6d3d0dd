package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/org/datacapture/pkg/models"
)

// MemoryBackend is an in-process StorageBackend. It enforces the same uniqueness
// rules as the SQL schema and applies multi-row writes all-or-nothing.
type MemoryBackend struct {
	mu          sync.RWMutex
	nextID      int64
	principals  map[int64]models.Principal
	collections map[int64]models.Collection
	grants      map[int64]models.Grant
	datasets    map[int64]models.Dataset
	audit       []models.AuditEvent
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		principals:  make(map[int64]models.Principal),
		collections: make(map[int64]models.Collection),
		grants:      make(map[int64]models.Grant),
		datasets:    make(map[int64]models.Dataset),
	}
}

func (m *MemoryBackend) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }
func (m *MemoryBackend) Close()                         {}

// --- Principals ---

func (m *MemoryBackend) CreatePrincipal(ctx context.Context, p *models.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if strings.EqualFold(existing.Email, p.Email) {
			return ErrDuplicateEmail
		}
		if p.Kind.IsVirtual() && existing.Kind == p.Kind {
			return fmt.Errorf("virtual principal %s: %w", p.Kind, ErrDuplicateEmail)
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.ID = m.id()
	m.principals[p.ID] = *p
	return nil
}

func (m *MemoryBackend) GetPrincipal(ctx context.Context, id int64) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryBackend) GetPrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if strings.EqualFold(p.Email, email) {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) GetVirtualPrincipal(ctx context.Context, kind models.PrincipalKind) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principals {
		if p.Kind == kind {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

// --- Collections ---

func (m *MemoryBackend) nameTaken(name string, excludeID int64) bool {
	for _, c := range m.collections {
		if c.ID != excludeID && strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func (m *MemoryBackend) CreateCollection(ctx context.Context, col *models.Collection, defaults []*models.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nameTaken(col.Name, 0) {
		return ErrDuplicateName
	}
	seen := map[int64]bool{}
	for _, g := range defaults {
		if _, ok := m.principals[g.PrincipalID]; !ok {
			return fmt.Errorf("inserting default grant: principal %d: %w", g.PrincipalID, ErrNotFound)
		}
		if seen[g.PrincipalID] {
			return fmt.Errorf("inserting default grant: %w", ErrDuplicateGrant)
		}
		seen[g.PrincipalID] = true
	}

	col.ID = m.id()
	m.collections[col.ID] = *col
	now := time.Now().UTC()
	for _, g := range defaults {
		g.ID = m.id()
		g.CollectionID = col.ID
		if g.CreatedAt.IsZero() {
			g.CreatedAt = now
		}
		m.grants[g.ID] = *g
	}
	return nil
}

func (m *MemoryBackend) UpdateCollection(ctx context.Context, col *models.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.collections[col.ID]
	if !ok {
		return ErrNotFound
	}
	if m.nameTaken(col.Name, col.ID) {
		return ErrDuplicateName
	}
	existing.Name = col.Name
	existing.Description = col.Description
	existing.BriefDesc = col.BriefDesc
	existing.SpatialType = col.SpatialType
	existing.SpatialCoverage = col.SpatialCoverage
	existing.CoverageStart = col.CoverageStart
	existing.CoverageEnd = col.CoverageEnd
	existing.ModifiedAt = col.ModifiedAt
	existing.ModifiedBy = col.ModifiedBy
	m.collections[col.ID] = existing
	return nil
}

func (m *MemoryBackend) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryBackend) CollectionNameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nameTaken(name, excludeID), nil
}

func (m *MemoryBackend) ListCollectionsByOwner(ctx context.Context, ownerID int64) ([]*models.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Collection
	for _, c := range m.collections {
		if c.OwnerID == ownerID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryBackend) DeleteCollection(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return ErrNotFound
	}
	delete(m.collections, id)
	for gid, g := range m.grants {
		if g.CollectionID == id {
			delete(m.grants, gid)
		}
	}
	for did, d := range m.datasets {
		if d.CollectionID == id {
			delete(m.datasets, did)
		}
	}
	return nil
}

func (m *MemoryBackend) MarkPublished(ctx context.Context, id int64, persistentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return ErrNotFound
	}
	c.Published = true
	c.PersistentID = &persistentID
	m.collections[id] = c
	return nil
}

func (m *MemoryBackend) TouchCollection(ctx context.Context, id, modifiedBy int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[id]
	if !ok {
		return ErrNotFound
	}
	c.ModifiedAt = at
	c.ModifiedBy = modifiedBy
	m.collections[id] = c
	return nil
}

// --- Grants ---

func (m *MemoryBackend) withPrincipal(g models.Grant) *models.Grant {
	if p, ok := m.principals[g.PrincipalID]; ok {
		g.PrincipalKind = p.Kind
		g.DisplayName = p.DisplayName
	}
	return &g
}

func (m *MemoryBackend) GetGrant(ctx context.Context, collectionID, principalID int64) (*models.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.grants {
		if g.CollectionID == collectionID && g.PrincipalID == principalID {
			return m.withPrincipal(g), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryBackend) ListGrants(ctx context.Context, collectionID int64) ([]*models.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Grant
	for _, g := range m.grants {
		if g.CollectionID == collectionID {
			out = append(out, m.withPrincipal(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ApplyGrantChanges validates the whole change set before touching any row.
func (m *MemoryBackend) ApplyGrantChanges(ctx context.Context, collectionID int64, changes models.GrantChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collectionID]; !ok {
		return ErrNotFound
	}

	// validate against the state the transaction would see: deletes, then
	// updates, then inserts
	deleted := map[int64]bool{}
	for _, id := range changes.Delete {
		g, ok := m.grants[id]
		if !ok || g.CollectionID != collectionID || deleted[id] {
			return fmt.Errorf("grant %d: %w", id, ErrNotFound)
		}
		deleted[id] = true
	}
	for _, upd := range changes.Update {
		g, ok := m.grants[upd.GrantID]
		if !ok || g.CollectionID != collectionID || deleted[upd.GrantID] {
			return fmt.Errorf("grant %d: %w", upd.GrantID, ErrNotFound)
		}
	}
	inserted := map[int64]bool{}
	for _, ins := range changes.Insert {
		if _, ok := m.principals[ins.PrincipalID]; !ok {
			return fmt.Errorf("principal %d: %w", ins.PrincipalID, ErrNotFound)
		}
		if inserted[ins.PrincipalID] || m.grantSurvives(collectionID, ins.PrincipalID, deleted) {
			return ErrDuplicateGrant
		}
		inserted[ins.PrincipalID] = true
	}

	for id := range deleted {
		delete(m.grants, id)
	}
	for _, upd := range changes.Update {
		g := m.grants[upd.GrantID]
		g.Indicators = upd.Flags.Indicators()
		m.grants[upd.GrantID] = g
	}
	now := time.Now().UTC()
	for _, ins := range changes.Insert {
		g := models.Grant{
			ID:           m.id(),
			CollectionID: collectionID,
			PrincipalID:  ins.PrincipalID,
			Indicators:   ins.Flags.Indicators(),
			CreatedAt:    now,
		}
		m.grants[g.ID] = g
	}
	return nil
}

// grantSurvives reports whether the pair has a grant that is not being deleted.
func (m *MemoryBackend) grantSurvives(collectionID, principalID int64, deleted map[int64]bool) bool {
	for id, g := range m.grants {
		if g.CollectionID == collectionID && g.PrincipalID == principalID && !deleted[id] {
			return true
		}
	}
	return false
}

// PutGrantIndicators writes raw indicators for an existing grant. It exists so
// callers can seed rows whose stored values are not plain 0/1.
func (m *MemoryBackend) PutGrantIndicators(collectionID, principalID int64, in models.Indicators) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, g := range m.grants {
		if g.CollectionID == collectionID && g.PrincipalID == principalID {
			g.Indicators = in
			m.grants[id] = g
			return
		}
	}
	g := models.Grant{ID: m.id(), CollectionID: collectionID, PrincipalID: principalID, Indicators: in, CreatedAt: time.Now().UTC()}
	m.grants[g.ID] = g
}

// --- Datasets ---

func (m *MemoryBackend) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[ds.CollectionID]; !ok {
		return ErrNotFound
	}
	for _, d := range m.datasets {
		if d.CollectionID == ds.CollectionID && d.Name == ds.Name {
			return ErrDuplicateDataset
		}
	}
	ds.ID = m.id()
	m.datasets[ds.ID] = *ds
	return nil
}

func (m *MemoryBackend) DatasetNameExists(ctx context.Context, collectionID int64, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.datasets {
		if d.CollectionID == collectionID && d.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryBackend) ListDatasets(ctx context.Context, collectionID int64) ([]*models.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Dataset
	for _, d := range m.datasets {
		if d.CollectionID == collectionID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Audit ---

func (m *MemoryBackend) WriteAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = m.id()
	m.audit = append(m.audit, *ev)
	return nil
}

func (m *MemoryBackend) QueryAuditEvents(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AuditEvent
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.OwnerID != 0 && e.OwnerID != filter.OwnerID {
			continue
		}
		if filter.OperatorID != 0 && e.OperatorID != filter.OperatorID {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		out = append(out, &e)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Metrics ---

func (m *MemoryBackend) CountCollections(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.collections)), nil
}

// Ensure MemoryBackend implements StorageBackend.
var _ StorageBackend = (*MemoryBackend)(nil)
