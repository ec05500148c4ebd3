package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/devserver/cache"
	"github.com/fjod/go_cart/storefront/internal/devserver/repository"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCache struct {
	m       sync.RWMutex
	docs    map[string]*repository.Document
	err     error
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{docs: make(map[string]*repository.Document)}
}

func (m *mockCache) Get(_ context.Context, kind domain.Kind, ownerID string) (*repository.Document, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	doc, ok := m.docs[string(kind)+":"+ownerID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return doc, nil
}

func (m *mockCache) Set(_ context.Context, doc *repository.Document) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.docs[string(doc.Kind)+":"+doc.OwnerID] = doc
	return m.err
}

func (m *mockCache) Delete(_ context.Context, kind domain.Kind, ownerID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.docs, string(kind)+":"+ownerID)
	m.deletes++
	return m.err
}

func (m *mockCache) cached(kind domain.Kind, ownerID string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.docs[string(kind)+":"+ownerID]
	return ok
}

type countingRepository struct {
	repository.CollectionRepository
	gets  atomic.Int32
	delay time.Duration
	err   error
}

func (r *countingRepository) Get(ctx context.Context, kind domain.Kind, ownerID string) (*repository.Document, error) {
	r.gets.Add(1)
	time.Sleep(r.delay)
	if r.err != nil {
		return nil, r.err
	}
	return r.CollectionRepository.Get(ctx, kind, ownerID)
}

func setupService(t *testing.T) (*CollectionService, *countingRepository, *mockCache) {
	t.Helper()
	repo := &countingRepository{CollectionRepository: repository.NewMemoryRepository()}
	c := newMockCache()
	products := repository.NewProductRepository(repository.DefaultProducts()...)
	return NewCollectionService(repo, products, c, logging.Discard()), repo, c
}

func TestGet_EmptyWhenMissing(t *testing.T) {
	svc, _, c := setupService(t)

	doc, err := svc.Get(context.Background(), domain.KindCart, "user1")

	require.NoError(t, err)
	assert.Equal(t, "user1", doc.OwnerID)
	assert.Empty(t, doc.Items)
	assert.False(t, c.cached(domain.KindCart, "user1"))
}

func TestGet_FillsCacheAfterRepoRead(t *testing.T) {
	svc, repo, c := setupService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, domain.KindCart, "user1", domain.Item{ProductID: "sku-1001", Quantity: 1})
	require.NoError(t, err)

	_, err = svc.Get(ctx, domain.KindCart, "user1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return c.cached(domain.KindCart, "user1") }, time.Second, 10*time.Millisecond)

	_, err = svc.Get(ctx, domain.KindCart, "user1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.gets.Load())
}

func TestGet_CacheErrorFallsBackToRepo(t *testing.T) {
	svc, repo, c := setupService(t)
	c.err = errors.New("redis down")

	_, err := svc.Get(context.Background(), domain.KindSaved, "user1")

	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.gets.Load())
}

func TestGet_RepoError(t *testing.T) {
	svc, repo, _ := setupService(t)
	repo.err = errors.New("mongo down")

	_, err := svc.Get(context.Background(), domain.KindCart, "user1")

	assert.ErrorContains(t, err, "mongo down")
}

func TestGet_ConcurrentMissesShareOneRead(t *testing.T) {
	svc, repo, _ := setupService(t)
	repo.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Get(context.Background(), domain.KindCart, "user1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, repo.gets.Load(), int32(10))
}

func TestAddItem_EnrichesFromCatalog(t *testing.T) {
	svc, _, _ := setupService(t)

	item, err := svc.AddItem(context.Background(), domain.KindCart, "user1", domain.Item{ProductID: "sku-1002"})

	require.NoError(t, err)
	assert.Equal(t, "Wool Scarf", item.Name)
	assert.Equal(t, int64(2450), item.Price)
	assert.Equal(t, 1, item.Quantity)
}

func TestAddItem_KeepsClientSnapshot(t *testing.T) {
	svc, _, _ := setupService(t)

	item, err := svc.AddItem(context.Background(), domain.KindSaved, "user1", domain.Item{ProductID: "sku-1002", Name: "Scarf", Price: 2000, Quantity: 4})

	require.NoError(t, err)
	assert.Equal(t, "Scarf", item.Name)
	assert.Equal(t, int64(2000), item.Price)
	assert.Zero(t, item.Quantity)
}

func TestAddItem_Invalid(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.AddItem(context.Background(), domain.KindCart, "user1", domain.Item{Quantity: 1})

	assert.ErrorIs(t, err, domain.ErrInvalidItem)
}

func TestWrites_InvalidateCache(t *testing.T) {
	svc, _, c := setupService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, domain.KindCart, "user1", domain.Item{ProductID: "sku-1001", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.UpdateQuantity(ctx, domain.KindCart, "user1", "sku-1001", 5)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveItem(ctx, domain.KindCart, "user1", "sku-1001"))
	require.NoError(t, svc.Clear(ctx, domain.KindCart, "user1"))

	c.m.RLock()
	defer c.m.RUnlock()
	assert.Equal(t, 4, c.deletes)
}

func TestUpdateQuantity_Rules(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.UpdateQuantity(ctx, domain.KindSaved, "user1", "sku-1001", 2)
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	_, err = svc.UpdateQuantity(ctx, domain.KindCart, "user1", "sku-1001", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidItem)

	_, err = svc.UpdateQuantity(ctx, domain.KindCart, "user1", "sku-1001", 2)
	assert.ErrorIs(t, err, repository.ErrItemNotFound)
}

func TestRemoveItem_NotFound(t *testing.T) {
	svc, _, c := setupService(t)

	err := svc.RemoveItem(context.Background(), domain.KindCart, "user1", "sku-1001")

	assert.ErrorIs(t, err, repository.ErrCollectionNotFound)
	assert.Zero(t, c.deletes)
}

func TestClear_MissingCollectionIsFine(t *testing.T) {
	svc, _, _ := setupService(t)

	assert.NoError(t, svc.Clear(context.Background(), domain.KindSaved, "user1"))
}
