package dataset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/org/datacapture/internal/audit"
	"github.com/org/datacapture/internal/collection"
	"github.com/org/datacapture/internal/permission"
	"github.com/org/datacapture/internal/principal"
	"github.com/org/datacapture/internal/storage"
	"github.com/org/datacapture/pkg/models"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store    *storage.MemoryBackend
	manager  *collection.Manager
	importer *Importer
	owner    *models.Principal
	member   *models.Principal
	col      *models.Collection
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	require.NoError(t, principal.Seed(ctx, store, principal.Bootstrap{}))
	resolver := principal.NewResolver(store)
	engine := permission.NewEngine(store, resolver)
	manager := collection.NewManager(store, engine, resolver, audit.NewRecorder(store), collection.Config{UserRootPrefix: "u"})

	f := &fixture{store: store, manager: manager}
	f.owner = &models.Principal{DisplayName: "Owner", Email: "owner@example.org", Kind: models.KindOrdinary}
	f.member = &models.Principal{DisplayName: "Member", Email: "member@example.org", Kind: models.KindOrdinary}
	require.NoError(t, store.CreatePrincipal(ctx, f.owner))
	require.NoError(t, store.CreatePrincipal(ctx, f.member))

	col, err := manager.Create(ctx, f.owner, collection.CreateSpec{
		Details: collection.Details{Name: "Survey", Description: "Field readings"},
	})
	require.NoError(t, err)
	f.col = col

	f.importer = NewImporter(store, manager)
	f.importer.now = func() time.Time { return today }
	return f
}

func (f *fixture) grant(t *testing.T, flags models.Flags) {
	t.Helper()
	require.NoError(t, f.manager.UpdatePermissions(context.Background(), f.owner, f.col.ID, models.GrantChangeSet{
		Insert: []models.GrantInsert{{PrincipalID: f.member.ID, Flags: flags}},
	}))
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
	return &t
}

func TestImportByOwner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.importer.Import(ctx, f.owner, f.col.ID, ImportSpec{Name: "readings.nc", Extractable: true})
	require.NoError(t, err)
	require.Equal(t, f.col.StorageKey+"/readings.nc", ds.StoragePath)
	require.Nil(t, ds.RestrictedUntil)

	col, err := f.store.GetCollection(ctx, f.col.ID)
	require.NoError(t, err)
	require.Equal(t, today, col.ModifiedAt)

	events, err := f.store.QueryAuditEvents(ctx, storage.AuditFilter{OwnerID: f.owner.ID, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, "readings.nc has been imported into the Survey", events[0].Description)

	_, err = f.importer.Import(ctx, f.owner, f.col.ID, ImportSpec{Name: "readings.nc"})
	require.ErrorIs(t, err, storage.ErrDuplicateDataset)
}

func TestImportRequiresImportCapability(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.importer.Import(ctx, f.member, f.col.ID, ImportSpec{Name: "a.nc"})
	require.ErrorIs(t, err, collection.ErrPermissionDenied)
	_, err = f.importer.Import(ctx, nil, f.col.ID, ImportSpec{Name: "a.nc"})
	require.ErrorIs(t, err, collection.ErrPermissionDenied)

	f.grant(t, models.Flags{View: true, Import: true})
	_, err = f.importer.Import(ctx, f.member, f.col.ID, ImportSpec{Name: "a.nc"})
	require.NoError(t, err)

	_, err = f.importer.Import(ctx, f.member, f.col.ID, ImportSpec{Name: "b.nc", Restricted: true, RestrictedUntil: day(2024, 6, 1)})
	require.ErrorIs(t, err, collection.ErrPermissionDenied)
}

func TestImportRejectsPathNames(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, name := range []string{"", "  ", "../escape.nc", "dir/file.nc", ".."} {
		_, err := f.importer.Import(context.Background(), f.owner, f.col.ID, ImportSpec{Name: name})
		var verr *collection.ValidationError
		require.ErrorAs(t, err, &verr, name)
	}
}

func TestRestrictedWindow(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		until *time.Time
		ok    bool
	}{
		{"missing", nil, false},
		{"past", day(2024, 2, 28), false},
		{"today", day(2024, 3, 1), false},
		{"29 days", day(2024, 3, 30), false},
		{"30 days", day(2024, 3, 31), true},
		{"18 months", day(2025, 9, 1), true},
		{"past 18 months", day(2025, 9, 2), false},
	}
	for _, tc := range cases {
		end, err := restrictedWindow(today, tc.until)
		if !tc.ok {
			var verr *collection.ValidationError
			require.ErrorAs(t, err, &verr, tc.name)
			continue
		}
		require.NoError(t, err, tc.name)
		require.Equal(t, 23, end.Hour(), tc.name)
		require.Equal(t, 59, end.Second(), tc.name)
	}
}

func TestImportRestrictedAudit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	ds, err := f.importer.Import(ctx, f.owner, f.col.ID, ImportSpec{Name: "secret.nc", Restricted: true, RestrictedUntil: day(2024, 6, 1)})
	require.NoError(t, err)
	require.NotNil(t, ds.RestrictedUntil)
	require.Equal(t, time.Date(2024, 6, 1, 23, 59, 59, 0, time.UTC), *ds.RestrictedUntil)

	events, err := f.store.QueryAuditEvents(ctx, storage.AuditFilter{OwnerID: f.owner.ID, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, "secret.nc has been imported into the Survey associated with a restricted access", events[0].Description)
}

func TestListRequiresView(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.importer.Import(ctx, f.owner, f.col.ID, ImportSpec{Name: "a.nc"})
	require.NoError(t, err)

	_, err = f.importer.List(ctx, nil, f.col.ID)
	require.ErrorIs(t, err, collection.ErrPermissionDenied)

	list, err := f.importer.List(ctx, f.owner, f.col.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRestrictedUntilKeepsRequestedDayWestOfUTC(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	// 22:00 on 1 March in New York is already 2 March in UTC
	newYork := time.FixedZone("EST", -5*60*60)
	f.importer.now = func() time.Time { return time.Date(2024, 3, 1, 22, 0, 0, 0, newYork) }

	until := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ds, err := f.importer.Import(ctx, f.owner, f.col.ID, ImportSpec{Name: "late.nc", Restricted: true, RestrictedUntil: &until})
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 1, 23, 59, 59, 0, time.UTC), *ds.RestrictedUntil)

	// the 30 day minimum counts from 2 March, the current UTC day
	early := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err = restrictedWindow(f.importer.now(), &early)
	var verr *collection.ValidationError
	require.ErrorAs(t, err, &verr)

	first := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	end, err := restrictedWindow(f.importer.now(), &first)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 4, 1, 23, 59, 59, 0, time.UTC), end)
}

type failingTouchStore struct {
	*storage.MemoryBackend
}

func (failingTouchStore) TouchCollection(context.Context, int64, int64, time.Time) error {
	return errors.New("connection reset")
}

func TestImportSucceedsWhenTouchFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	im := NewImporter(failingTouchStore{f.store}, f.manager)
	im.now = f.importer.now

	ds, err := im.Import(ctx, f.owner, f.col.ID, ImportSpec{Name: "readings.nc"})
	require.NoError(t, err)
	require.NotZero(t, ds.ID)

	list, err := f.store.ListDatasets(ctx, f.col.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	events, err := f.store.QueryAuditEvents(ctx, storage.AuditFilter{OwnerID: f.owner.ID, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, "readings.nc has been imported into the Survey", events[0].Description)
}

func TestImportRejectsVirtualActor(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	everyone, err := f.store.GetVirtualPrincipal(ctx, models.KindAllRegistered)
	require.NoError(t, err)
	g, err := f.store.GetGrant(ctx, f.col.ID, everyone.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.UpdatePermissions(ctx, f.owner, f.col.ID, models.GrantChangeSet{
		Update: []models.GrantUpdate{{GrantID: g.ID, Flags: models.FullFlags()}},
	}))

	_, err = f.importer.Import(ctx, everyone, f.col.ID, ImportSpec{Name: "readings.nc"})
	require.ErrorIs(t, err, collection.ErrPermissionDenied)
}
