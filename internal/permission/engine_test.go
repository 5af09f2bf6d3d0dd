package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/org/datacapture/internal/storage"
	"github.com/org/datacapture/pkg/models"
	"github.com/stretchr/testify/require"
)

const (
	allRegisteredID int64 = 1
	anonymousID     int64 = 2
	ownerID         int64 = 10
	collectionID    int64 = 100
)

type grantKey struct{ collection, principal int64 }

// mockGrantStore is a minimal in-memory GrantGetter and VirtualResolver.
type mockGrantStore struct {
	grants   map[grantKey]models.Indicators
	virtuals map[models.PrincipalKind]int64
	failOn   int64
	err      error
}

func newMockStore() *mockGrantStore {
	return &mockGrantStore{
		grants: map[grantKey]models.Indicators{},
		virtuals: map[models.PrincipalKind]int64{
			models.KindAllRegistered: allRegisteredID,
			models.KindAnonymous:     anonymousID,
		},
	}
}

func (m *mockGrantStore) put(principalID int64, in models.Indicators) {
	m.grants[grantKey{collectionID, principalID}] = in
}

func (m *mockGrantStore) GetGrant(_ context.Context, col, principal int64) (*models.Grant, error) {
	if m.err != nil && principal == m.failOn {
		return nil, m.err
	}
	in, ok := m.grants[grantKey{col, principal}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &models.Grant{CollectionID: col, PrincipalID: principal, Indicators: in}, nil
}

func (m *mockGrantStore) Get(_ context.Context, kind models.PrincipalKind) (*models.Principal, error) {
	id, ok := m.virtuals[kind]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &models.Principal{ID: id, Kind: kind}, nil
}

func ordinary(id int64) *models.Principal {
	return &models.Principal{ID: id, Kind: models.KindOrdinary}
}

func resolve(t *testing.T, store *mockGrantStore, actor *models.Principal) View {
	t.Helper()
	v, err := NewEngine(store, store).Resolve(context.Background(), collectionID, actor, ownerID)
	require.NoError(t, err)
	return v
}

func TestOwnerGetsEverything(t *testing.T) {
	store := newMockStore()
	// an explicit empty grant for the owner does not matter
	store.put(ownerID, models.Indicators{})

	v := resolve(t, store, ordinary(ownerID))
	require.Equal(t, SourceOwnerFull, v.Source)
	require.Equal(t, models.FullFlags(), v.Flags)
	require.True(t, v.Full())
}

func TestAdminGetsEverything(t *testing.T) {
	for _, kind := range []models.PrincipalKind{models.KindAdmin, models.KindSuperAdmin} {
		store := newMockStore()
		store.put(20, models.Indicators{})
		v := resolve(t, store, &models.Principal{ID: 20, Kind: kind})
		require.Equal(t, SourceAdminFull, v.Source, kind)
		require.Equal(t, models.FullFlags(), v.Flags, kind)
	}
}

func TestDirectGrantUsedVerbatim(t *testing.T) {
	store := newMockStore()
	store.put(20, models.Flags{View: true, Export: true}.Indicators())
	store.put(allRegisteredID, models.FullFlags().Indicators())

	v := resolve(t, store, ordinary(20))
	require.Equal(t, SourceDirectGrant, v.Source)
	require.Equal(t, models.Flags{View: true, Export: true}, v.Flags)
	require.True(t, v.Allows(CapExport))
	require.False(t, v.Allows(CapUpdate))
	require.False(t, v.Full())
}

func TestAllFalseGrantIsAnExplicitDeny(t *testing.T) {
	store := newMockStore()
	store.put(20, models.Indicators{})
	store.put(allRegisteredID, models.Flags{View: true}.Indicators())

	v := resolve(t, store, ordinary(20))
	require.Equal(t, SourceDirectGrant, v.Source)
	require.False(t, v.Allows(CapView))
}

func TestFallsBackToAllRegistered(t *testing.T) {
	store := newMockStore()
	store.put(allRegisteredID, models.Flags{View: true, Export: true}.Indicators())

	v := resolve(t, store, ordinary(20))
	require.Equal(t, SourceInheritedAllRegistered, v.Source)
	require.Equal(t, models.Flags{View: true, Export: true}, v.Flags)
}

func TestNoAllRegisteredRowDeniesEverything(t *testing.T) {
	v := resolve(t, newMockStore(), ordinary(20))
	require.Equal(t, SourceInheritedAllRegistered, v.Source)
	require.Equal(t, models.Flags{}, v.Flags)
}

func TestAnonymousUsesAnonymousGrantOnly(t *testing.T) {
	store := newMockStore()
	store.put(anonymousID, models.Flags{View: true}.Indicators())
	store.put(allRegisteredID, models.FullFlags().Indicators())

	v := resolve(t, store, nil)
	require.Equal(t, SourceInheritedAnonymous, v.Source)
	require.Equal(t, models.Flags{View: true}, v.Flags)
}

func TestAnonymousWithoutRowGetsNothing(t *testing.T) {
	store := newMockStore()
	store.put(allRegisteredID, models.FullFlags().Indicators())

	v := resolve(t, store, nil)
	require.Equal(t, SourceNone, v.Source)
	require.Equal(t, models.Flags{}, v.Flags)
}

func TestNonBinaryIndicatorsMeanAllowed(t *testing.T) {
	store := newMockStore()
	store.put(20, models.Indicators{View: 2, Import: -1})

	v := resolve(t, store, ordinary(20))
	require.True(t, v.Flags.View)
	require.True(t, v.Flags.Import)
	require.False(t, v.Flags.Update)
}

func TestStoreFailureIsResolutionError(t *testing.T) {
	boom := errors.New("connection reset")
	store := newMockStore()
	store.failOn = 20
	store.err = boom

	_, err := NewEngine(store, store).Resolve(context.Background(), collectionID, ordinary(20), ownerID)
	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	require.ErrorIs(t, err, boom)
	require.Equal(t, collectionID, rerr.CollectionID)
}

func TestMissingVirtualSeedIsResolutionError(t *testing.T) {
	store := newMockStore()
	delete(store.virtuals, models.KindAllRegistered)

	_, err := NewEngine(store, store).Resolve(context.Background(), collectionID, ordinary(20), ownerID)
	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResolveIsDeterministic(t *testing.T) {
	store := newMockStore()
	store.put(allRegisteredID, models.Flags{View: true}.Indicators())
	first := resolve(t, store, ordinary(20))
	second := resolve(t, store, ordinary(20))
	require.Equal(t, first, second)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, models.FullFlags(), Normalize(models.FullFlags().Indicators()))
	require.Equal(t, models.Flags{}, Normalize(models.Indicators{}))
	require.Equal(t, models.Flags{RAC: true}, Normalize(models.Indicators{RAC: 7}))
}
