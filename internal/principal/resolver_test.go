package principal

import (
	"context"
	"errors"
	"testing"

	"github.com/org/datacapture/internal/storage"
	"github.com/org/datacapture/pkg/models"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*storage.MemoryBackend
	lookups int
	fail    error
}

func (c *countingStore) GetVirtualPrincipal(ctx context.Context, kind models.PrincipalKind) (*models.Principal, error) {
	c.lookups++
	if c.fail != nil {
		return nil, c.fail
	}
	return c.MemoryBackend.GetVirtualPrincipal(ctx, kind)
}

func TestResolverReturnsSameRow(t *testing.T) {
	store := storage.NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, Seed(ctx, store, Bootstrap{}))

	r := NewResolver(store)
	first, err := r.Get(ctx, models.KindAnonymous)
	require.NoError(t, err)
	second, err := r.Get(ctx, models.KindAnonymous)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	all, err := r.Get(ctx, models.KindAllRegistered)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, all.ID)
	require.Equal(t, models.KindAllRegistered, all.Kind)
}

func TestResolverMissingSeedIsNotFound(t *testing.T) {
	r := NewResolver(storage.NewMemoryBackend())
	_, err := r.Get(context.Background(), models.KindAllRegistered)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResolverRejectsRealKinds(t *testing.T) {
	store := &countingStore{MemoryBackend: storage.NewMemoryBackend()}
	r := NewResolver(store)
	_, err := r.Get(context.Background(), models.KindAdmin)
	require.ErrorIs(t, err, ErrNotVirtual)
	require.Zero(t, store.lookups)
}

func TestResolverPropagatesStoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewResolver(&countingStore{MemoryBackend: storage.NewMemoryBackend(), fail: boom})
	_, err := r.Get(context.Background(), models.KindAnonymous)
	require.ErrorIs(t, err, boom)
}

func TestGranteeID(t *testing.T) {
	store := storage.NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, Seed(ctx, store, Bootstrap{}))
	r := NewResolver(store)

	id, err := r.GranteeID(ctx, models.RealGrantee(42))
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	anon, err := store.GetVirtualPrincipal(ctx, models.KindAnonymous)
	require.NoError(t, err)
	id, err = r.GranteeID(ctx, models.VirtualGrantee(models.KindAnonymous))
	require.NoError(t, err)
	require.Equal(t, anon.ID, id)
}

func TestSeedIsIdempotent(t *testing.T) {
	store := storage.NewMemoryBackend()
	ctx := context.Background()
	boot := Bootstrap{AdminEmail: "root@example.org", AdminName: "Root"}
	require.NoError(t, Seed(ctx, store, boot))
	require.NoError(t, Seed(ctx, store, boot))

	admin, err := store.GetPrincipalByEmail(ctx, "ROOT@example.org")
	require.NoError(t, err)
	require.Equal(t, models.KindSuperAdmin, admin.Kind)
	// two virtual rows plus the admin
	require.Equal(t, int64(3), admin.ID)
}
