package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/hybrid"
	"github.com/fjod/go_cart/storefront/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockService keeps a cart in memory. block, when set, holds Add until it is
// closed.
type mockService struct {
	m        sync.RWMutex
	col      domain.Collection
	state    hybrid.State
	onlineCh []bool
	syncs    int
	block    chan struct{}
	addErr   error
}

func newMockService() *mockService {
	return &mockService{
		col:   domain.NewCollection(domain.KindCart),
		state: hybrid.State{Kind: domain.KindCart, Mode: domain.ModeGuest, SyncStatus: domain.SyncStatusIdle, Online: true},
	}
}

func (s *mockService) Kind() domain.Kind { return domain.KindCart }

func (s *mockService) Initialize(_ context.Context, owner string) (hybrid.State, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if owner != "" {
		s.state.Mode = domain.ModeAuthenticated
		s.state.SyncStatus = domain.SyncStatusSynced
		s.state.OwnerID = owner
	}
	return s.state, nil
}

func (s *mockService) SignOut(context.Context) hybrid.State {
	s.m.Lock()
	defer s.m.Unlock()
	s.state.Mode = domain.ModeGuest
	s.state.SyncStatus = domain.SyncStatusIdle
	s.state.OwnerID = ""
	s.col = domain.NewCollection(domain.KindCart)
	return s.state
}

func (s *mockService) SetOnline(_ context.Context, online bool) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.state.Online = online
	s.onlineCh = append(s.onlineCh, online)
	return nil
}

func (s *mockService) Sync(context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.syncs++
	return nil
}

func (s *mockService) Items(context.Context) (domain.Collection, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.col.Clone(), nil
}

func (s *mockService) Local(ctx context.Context) domain.Collection {
	c, _ := s.Items(ctx)
	return c
}

func (s *mockService) Add(_ context.Context, item domain.Item) (domain.Collection, error) {
	s.m.RLock()
	block, addErr := s.block, s.addErr
	s.m.RUnlock()
	if block != nil {
		<-block
	}
	if addErr != nil {
		return domain.Collection{}, addErr
	}

	s.m.Lock()
	defer s.m.Unlock()
	s.col.Items = append(s.col.Items, item)
	return s.col.Clone(), nil
}

func (s *mockService) Remove(_ context.Context, productID string) (domain.Collection, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if i := s.col.IndexOf(productID); i >= 0 {
		s.col.Items = append(s.col.Items[:i], s.col.Items[i+1:]...)
	}
	return s.col.Clone(), nil
}

func (s *mockService) UpdateQuantity(_ context.Context, productID string, quantity int) (domain.Collection, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if i := s.col.IndexOf(productID); i >= 0 {
		s.col.Items[i].Quantity = quantity
	}
	return s.col.Clone(), nil
}

func (s *mockService) Clear(context.Context) (domain.Collection, error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.col.Items = []domain.Item{}
	return s.col.Clone(), nil
}

func (s *mockService) State(context.Context) hybrid.State {
	s.m.RLock()
	defer s.m.RUnlock()
	return s.state
}

func (s *mockService) replaceItems(items []domain.Item) {
	s.m.Lock()
	defer s.m.Unlock()
	s.col.Items = items
}

func TestProvider_DerivesTotals(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMockService(), WithLogger(logging.Discard()))
	require.NoError(t, p.Start(ctx, ""))
	defer p.Stop()

	_, err := p.AddItem(ctx, domain.Item{ProductID: "A", Price: 1000, Quantity: 2})
	require.NoError(t, err)
	v, err := p.AddItem(ctx, domain.Item{ProductID: "B", Price: 250, Quantity: 2})
	require.NoError(t, err)

	assert.Equal(t, 4, v.ItemCount)
	assert.Equal(t, int64(2500), v.TotalAmount)
	assert.False(t, v.IsUpdating)
	assert.False(t, v.IsLoading)
	assert.Equal(t, domain.ModeGuest, v.Mode)

	v, err = p.UpdateQuantity(ctx, "B", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2250), v.TotalAmount)

	v, err = p.RemoveItem(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, v.ItemCount)

	v, err = p.Clear(ctx)
	require.NoError(t, err)
	assert.Empty(t, v.Items)
	assert.Equal(t, int64(0), v.TotalAmount)
}

func TestProvider_OverlappingMutationIsBusy(t *testing.T) {
	ctx := context.Background()
	svc := newMockService()
	svc.block = make(chan struct{})
	p := NewProvider(svc, WithLogger(logging.Discard()))

	done := make(chan error, 1)
	go func() {
		_, err := p.AddItem(ctx, domain.Item{ProductID: "A", Price: 100, Quantity: 1})
		done <- err
	}()

	require.Eventually(t, func() bool { return p.View().IsUpdating }, time.Second, 5*time.Millisecond)

	_, err := p.RemoveItem(ctx, "A")
	assert.ErrorIs(t, err, ErrBusy)

	close(svc.block)
	require.NoError(t, <-done)
	assert.False(t, p.View().IsUpdating)
	assert.Len(t, p.View().Items, 1)
}

func TestProvider_SubscribersSeeLatestView(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMockService(), WithLogger(logging.Discard()))
	views, cancel := p.Subscribe()
	defer cancel()

	initial := <-views
	assert.Empty(t, initial.Items)

	for _, id := range []string{"A", "B", "C"} {
		_, err := p.AddItem(ctx, domain.Item{ProductID: id, Price: 100, Quantity: 1})
		require.NoError(t, err)
	}

	latest := <-views
	assert.Equal(t, 3, latest.ItemCount)
	select {
	case v := <-views:
		t.Fatalf("stale view delivered: %+v", v)
	default:
	}
}

func TestProvider_ViewsAreCopies(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMockService(), WithLogger(logging.Discard()))
	_, err := p.AddItem(ctx, domain.Item{ProductID: "A", Price: 100, Quantity: 1})
	require.NoError(t, err)

	v := p.View()
	v.Items[0].Quantity = 99
	assert.Equal(t, 1, p.View().Items[0].Quantity)
}

func TestProvider_RejectedWriteKeepsItems(t *testing.T) {
	ctx := context.Background()
	svc := newMockService()
	svc.replaceItems([]domain.Item{{ProductID: "A", Price: 100, Quantity: 1}})
	p := NewProvider(svc, WithLogger(logging.Discard()))

	svc.addErr = domain.ErrInvalidItem
	v, err := p.AddItem(ctx, domain.Item{})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)
	assert.ErrorIs(t, v.Err, domain.ErrInvalidItem)
	assert.Len(t, v.Items, 1)
}

func TestProvider_ConnectivityEvents(t *testing.T) {
	ctx := context.Background()
	svc := newMockService()
	online := make(chan bool, 1)
	p := NewProvider(svc, WithConnectivity(online), WithLogger(logging.Discard()))
	require.NoError(t, p.Start(ctx, "u1"))
	defer p.Stop()

	online <- false
	require.Eventually(t, func() bool { return !p.View().IsOnline }, time.Second, 5*time.Millisecond)

	online <- true
	require.Eventually(t, func() bool { return p.View().IsOnline }, time.Second, 5*time.Millisecond)

	svc.m.RLock()
	defer svc.m.RUnlock()
	assert.Equal(t, []bool{false, true}, svc.onlineCh)
}

func TestProvider_StorageEventsRefresh(t *testing.T) {
	ctx := context.Background()
	svc := newMockService()
	storage := make(chan struct{}, 1)
	p := NewProvider(svc, WithStorageEvents(storage), WithLogger(logging.Discard()))
	require.NoError(t, p.Start(ctx, ""))
	defer p.Stop()

	// another process wrote the cart
	svc.replaceItems([]domain.Item{{ProductID: "X", Price: 300, Quantity: 2}})
	storage <- struct{}{}

	require.Eventually(t, func() bool { return p.View().TotalAmount == 600 }, time.Second, 5*time.Millisecond)
}

func TestProvider_SignInAndSignOut(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newMockService(), WithLogger(logging.Discard()))

	require.NoError(t, p.SignIn(ctx, "u1"))
	v := p.View()
	assert.Equal(t, domain.ModeAuthenticated, v.Mode)
	assert.Equal(t, domain.SyncStatusSynced, v.SyncStatus)
	assert.Equal(t, "u1", v.OwnerID)

	p.SignOut(ctx)
	assert.Equal(t, domain.ModeGuest, p.View().Mode)
}

func TestProvider_SyncAndRefresh(t *testing.T) {
	ctx := context.Background()
	svc := newMockService()
	p := NewProvider(svc, WithLogger(logging.Discard()))

	_, err := p.Sync(ctx)
	require.NoError(t, err)
	svc.replaceItems([]domain.Item{{ProductID: "A", Price: 100, Quantity: 3}})

	v, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v.ItemCount)
	assert.Equal(t, 1, svc.syncs)
}

func TestProvider_StopClosesSubscriptions(t *testing.T) {
	p := NewProvider(newMockService(), WithLogger(logging.Discard()))
	require.NoError(t, p.Start(context.Background(), ""))
	views, _ := p.Subscribe()
	<-views

	p.Stop()
	_, ok := <-views
	assert.False(t, ok)
}
