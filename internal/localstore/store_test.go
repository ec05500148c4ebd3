package localstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/localstore"
	"github.com/fjod/go_cart/storefront/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	m   sync.RWMutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.m.RLock()
	defer c.m.RUnlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()
	c.now = c.now.Add(d)
}

func setupSQLite(t *testing.T) *localstore.SQLiteBackend {
	t.Helper()
	backend, err := localstore.OpenSQLite(filepath.Join(t.TempDir(), "storefront.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func newStore(backend localstore.Backend, kind domain.Kind, opts ...localstore.Option) *localstore.Store {
	opts = append([]localstore.Option{localstore.WithLogger(logging.Discard())}, opts...)
	return localstore.New(backend, kind, "", opts...)
}

func TestStore_GetEmpty(t *testing.T) {
	store := newStore(setupSQLite(t), domain.KindCart)

	c := store.Get(context.Background())
	assert.Equal(t, domain.KindCart, c.Kind)
	assert.Empty(t, c.Items)
	assert.Equal(t, 0, store.Count(context.Background()))
}

func TestStore_AddSameProductMergesQuantity(t *testing.T) {
	ctx := context.Background()
	store := newStore(setupSQLite(t), domain.KindCart)

	_, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 1000, Quantity: 2})
	require.NoError(t, err)
	c, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 1000, Quantity: 3})
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	assert.Equal(t, 5, c.Items[0].Quantity)
	assert.NotEmpty(t, c.Items[0].ID)
	assert.Equal(t, int64(2), c.Version)
}

func TestStore_AddRejectsMergeAboveLimit(t *testing.T) {
	ctx := context.Background()
	store := newStore(setupSQLite(t), domain.KindCart)

	_, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 1000, Quantity: 999})
	require.NoError(t, err)
	c, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 1000, Quantity: 999})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)

	require.Len(t, c.Items, 1)
	assert.Equal(t, 999, c.Items[0].Quantity)
	assert.Equal(t, 999, store.Get(ctx).Items[0].Quantity)
}

func TestStore_AddDefaultsCartQuantityToOne(t *testing.T) {
	store := newStore(localstore.NewMemoryBackend(), domain.KindCart)

	c, err := store.Add(context.Background(), domain.Item{ProductID: "P1", Price: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Items[0].Quantity)
}

func TestStore_AddInvalidItem(t *testing.T) {
	store := newStore(localstore.NewMemoryBackend(), domain.KindCart)

	_, err := store.Add(context.Background(), domain.Item{Price: 100, Quantity: 1})
	assert.True(t, errors.Is(err, domain.ErrInvalidItem))
	assert.Empty(t, store.Get(context.Background()).Items)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(setupSQLite(t), domain.KindCart)

	_, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 100, Quantity: 1})
	require.NoError(t, err)
	_, err = store.Add(ctx, domain.Item{ProductID: "P2", Price: 200, Quantity: 1})
	require.NoError(t, err)

	once := store.Remove(ctx, "P1")
	twice := store.Remove(ctx, "P1")

	assert.Equal(t, once.Items, twice.Items)
	assert.Equal(t, once.Version, twice.Version)
	require.Len(t, twice.Items, 1)
	assert.Equal(t, "P2", twice.Items[0].ProductID)
}

func TestStore_UpdateQuantity(t *testing.T) {
	ctx := context.Background()
	store := newStore(localstore.NewMemoryBackend(), domain.KindCart)

	_, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 100, Quantity: 1})
	require.NoError(t, err)

	c, err := store.UpdateQuantity(ctx, "P1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Items[0].Quantity)

	c, err = store.UpdateQuantity(ctx, "P1", 0)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}

func TestStore_UpdateQuantityOnSavedListIsUnsupported(t *testing.T) {
	store := newStore(localstore.NewMemoryBackend(), domain.KindSaved)

	_, err := store.UpdateQuantity(context.Background(), "P1", 2)
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}

func TestStore_GuestCartTotals(t *testing.T) {
	ctx := context.Background()
	store := newStore(setupSQLite(t), domain.KindCart)

	_, err := store.Add(ctx, domain.Item{ProductID: "A", Price: 1000, Quantity: 2})
	require.NoError(t, err)
	_, err = store.Add(ctx, domain.Item{ProductID: "A", Price: 1000, Quantity: 1})
	require.NoError(t, err)

	c := store.Get(ctx)
	assert.Equal(t, 3, c.Count())
	assert.Equal(t, int64(3000), c.Total())
	assert.Equal(t, "30.00", domain.FormatAmount(c.Total()))
}

func TestStore_SavedItemRefreshKeepsID(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := newStore(localstore.NewMemoryBackend(), domain.KindSaved, localstore.WithClock(clock))

	first, err := store.Add(ctx, domain.Item{ProductID: "P1", Name: "Old", Price: 500, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, first.Items[0].Quantity)

	clock.Advance(time.Hour)
	second, err := store.Add(ctx, domain.Item{ProductID: "P1", Name: "New", Price: 450})
	require.NoError(t, err)

	require.Len(t, second.Items, 1)
	assert.Equal(t, first.Items[0].ID, second.Items[0].ID)
	assert.Equal(t, "New", second.Items[0].Name)
	assert.Equal(t, int64(450), second.Items[0].Price)
	assert.Equal(t, clock.Now().UTC(), second.Items[0].AddedAt)
}

func TestStore_SavedItemsExpire(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	backend := localstore.NewMemoryBackend()
	store := newStore(backend, domain.KindSaved, localstore.WithClock(clock))

	_, err := store.Add(ctx, domain.Item{ProductID: "old", Price: 100})
	require.NoError(t, err)

	clock.Advance(31 * 24 * time.Hour)
	_, err = store.Add(ctx, domain.Item{ProductID: "fresh", Price: 200})
	require.NoError(t, err)

	c := store.Get(ctx)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "fresh", c.Items[0].ProductID)

	// the expired item was purged by the write, not only hidden
	rec, err := backend.Load(ctx, localstore.Key(domain.KindSaved, ""))
	require.NoError(t, err)
	assert.NotContains(t, string(rec.Data), `"old"`)
}

func TestStore_ExpiryEvaluatedAtReadTime(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := newStore(localstore.NewMemoryBackend(), domain.KindSaved, localstore.WithClock(clock))

	_, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count(ctx))

	clock.Advance(30*24*time.Hour + time.Minute)
	assert.Equal(t, 0, store.Count(ctx))
}

func TestStore_CorruptDataReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := localstore.NewMemoryBackend()
	_, err := backend.Save(ctx, localstore.Key(domain.KindCart, ""), []byte("{not json"), 0)
	require.NoError(t, err)

	store := newStore(backend, domain.KindCart)
	assert.Empty(t, store.Get(ctx).Items)

	c, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 100, Quantity: 1})
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
	assert.Equal(t, int64(2), c.Version)
}

func TestStore_KeysAreScopedPerOwner(t *testing.T) {
	ctx := context.Background()
	backend := localstore.NewMemoryBackend()
	guest := localstore.New(backend, domain.KindCart, "", localstore.WithLogger(logging.Discard()))
	user := localstore.New(backend, domain.KindCart, "u-1", localstore.WithLogger(logging.Discard()))

	_, err := guest.Add(ctx, domain.Item{ProductID: "P1", Price: 100, Quantity: 1})
	require.NoError(t, err)

	assert.Empty(t, user.Get(ctx).Items)
	assert.Equal(t, "storefront:cart:guest", localstore.Key(domain.KindCart, ""))
	assert.Equal(t, "storefront:saved-items:user:u-1", localstore.Key(domain.KindSaved, "u-1"))
}

func TestStore_ReplaceSkipsIdenticalWrite(t *testing.T) {
	ctx := context.Background()
	store := newStore(localstore.NewMemoryBackend(), domain.KindCart)
	items := []domain.Item{{ID: "s-1", ProductID: "P1", Price: 100, Quantity: 2}}

	first := store.Replace(ctx, items)
	second := store.Replace(ctx, items)

	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, items, second.Items)
}

func TestStore_ClearEmptiesCollection(t *testing.T) {
	ctx := context.Background()
	store := newStore(localstore.NewMemoryBackend(), domain.KindCart)

	_, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 100, Quantity: 1})
	require.NoError(t, err)

	assert.Empty(t, store.Clear(ctx).Items)
	assert.Empty(t, store.Get(ctx).Items)
}

// racingBackend lets another writer slip in before the first save.
type racingBackend struct {
	*localstore.MemoryBackend
	once  sync.Once
	other func()
}

func (b *racingBackend) Save(ctx context.Context, key string, data []byte, expected int64) (int64, error) {
	b.once.Do(b.other)
	return b.MemoryBackend.Save(ctx, key, data, expected)
}

func TestStore_VersionConflictRetriesWithFreshData(t *testing.T) {
	ctx := context.Background()
	mem := localstore.NewMemoryBackend()
	other := newStore(mem, domain.KindCart)
	backend := &racingBackend{MemoryBackend: mem}
	backend.other = func() {
		_, err := other.Add(ctx, domain.Item{ProductID: "from-other-tab", Price: 100, Quantity: 1})
		require.NoError(t, err)
	}
	store := newStore(backend, domain.KindCart)

	c, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 100, Quantity: 1})
	require.NoError(t, err)

	assert.Len(t, c.Items, 2)
	assert.Equal(t, int64(2), c.Version)
	_, ok := c.Find("from-other-tab")
	assert.True(t, ok)
}

func TestStore_FallsBackToMemoryWhenStorageFails(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT key, data, version, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{"key", "data", "version", "updated_at"}))
	mock.ExpectExec("INSERT INTO kv_records").
		WillReturnError(errors.New("disk I/O error"))

	store := newStore(localstore.NewSQLiteBackend(db), domain.KindCart)

	c, err := store.Add(ctx, domain.Item{ProductID: "P1", Price: 100, Quantity: 1})
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
	assert.True(t, store.Degraded())

	// subsequent reads are served from memory
	got := store.Get(ctx)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "P1", got.Items[0].ProductID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadFailureFallsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT key, data, version, updated_at").
		WillReturnError(errors.New("database is locked"))

	store := newStore(localstore.NewSQLiteBackend(db), domain.KindCart)

	assert.Empty(t, store.Get(context.Background()).Items)
	assert.True(t, store.Degraded())
}
