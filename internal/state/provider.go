// Package state exposes a collection and its sync state as a stream of
// immutable views for a presentation layer.
package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/hybrid"
	"github.com/sirupsen/logrus"
)

var ErrBusy = errors.New("another update is in progress")

// View is what a screen renders. Items is a copy owned by the receiver.
type View struct {
	Kind        domain.Kind
	Items       []domain.Item
	ItemCount   int
	TotalAmount int64
	IsLoading   bool
	IsUpdating  bool
	IsOnline    bool
	Mode        domain.Mode
	SyncStatus  domain.SyncStatus
	OwnerID     string
	Pending     int
	Err         error
}

// Service is the part of hybrid.Service the provider drives.
type Service interface {
	Kind() domain.Kind
	Initialize(ctx context.Context, owner string) (hybrid.State, error)
	SignOut(ctx context.Context) hybrid.State
	SetOnline(ctx context.Context, online bool) error
	Sync(ctx context.Context) error
	Items(ctx context.Context) (domain.Collection, error)
	Local(ctx context.Context) domain.Collection
	Add(ctx context.Context, item domain.Item) (domain.Collection, error)
	Remove(ctx context.Context, productID string) (domain.Collection, error)
	UpdateQuantity(ctx context.Context, productID string, quantity int) (domain.Collection, error)
	Clear(ctx context.Context) (domain.Collection, error)
	State(ctx context.Context) hybrid.State
}

type Provider struct {
	svc          Service
	connectivity <-chan bool
	storage      <-chan struct{}
	log          logrus.FieldLogger

	updating atomic.Bool

	mu     sync.RWMutex
	view   View
	subs   map[int]chan View
	nextID int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Provider)

// WithConnectivity feeds online/offline transitions into the service.
func WithConnectivity(ch <-chan bool) Option {
	return func(p *Provider) { p.connectivity = ch }
}

// WithStorageEvents refreshes the view when another process changed local
// storage.
func WithStorageEvents(ch <-chan struct{}) Option {
	return func(p *Provider) { p.storage = ch }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

func NewProvider(svc Service, opts ...Option) *Provider {
	p := &Provider{
		svc:  svc,
		log:  logrus.StandardLogger(),
		subs: make(map[int]chan View),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithFields(logrus.Fields{"component": "state", "kind": svc.Kind()})
	p.view = View{Kind: svc.Kind(), Items: []domain.Item{}, IsOnline: true, Mode: domain.ModeGuest, SyncStatus: domain.SyncStatusIdle}
	return p
}

// Start initializes the service for owner (empty for a guest), which runs
// the guest migration for a signed-in user, and starts listening for
// connectivity and storage events until Stop or ctx ends.
func (p *Provider) Start(ctx context.Context, owner string) error {
	err := p.SignIn(ctx, owner)

	loopCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.listen(loopCtx)
	return err
}

func (p *Provider) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
}

func (p *Provider) listen(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-p.connectivity:
			if !ok {
				p.connectivity = nil
				continue
			}
			p.setOnline(ctx, online)
		case _, ok := <-p.storage:
			if !ok {
				p.storage = nil
				continue
			}
			p.publishCollection(ctx, p.svc.Local(ctx), nil)
		}
	}
}

func (p *Provider) setOnline(ctx context.Context, online bool) {
	p.update(func(v *View) { v.IsOnline = online })
	err := p.svc.SetOnline(ctx, online)
	if err != nil {
		p.log.WithError(err).Warn("reconcile after reconnect failed")
	}
	p.publishCollection(ctx, p.svc.Local(ctx), err)
}

// View returns the current view.
func (p *Provider) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyView(p.view)
}

// Subscribe returns a channel that receives the current view and every later
// one. A subscriber that falls behind only sees the newest view.
func (p *Provider) Subscribe() (<-chan View, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan View, 1)
	ch <- copyView(p.view)
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				close(sub)
				delete(p.subs, id)
			}
		})
	}
}

func (p *Provider) AddItem(ctx context.Context, item domain.Item) (View, error) {
	return p.mutate(ctx, func(ctx context.Context) (domain.Collection, error) {
		return p.svc.Add(ctx, item)
	})
}

func (p *Provider) RemoveItem(ctx context.Context, productID string) (View, error) {
	return p.mutate(ctx, func(ctx context.Context) (domain.Collection, error) {
		return p.svc.Remove(ctx, productID)
	})
}

func (p *Provider) UpdateQuantity(ctx context.Context, productID string, quantity int) (View, error) {
	return p.mutate(ctx, func(ctx context.Context) (domain.Collection, error) {
		return p.svc.UpdateQuantity(ctx, productID, quantity)
	})
}

func (p *Provider) Clear(ctx context.Context) (View, error) {
	return p.mutate(ctx, func(ctx context.Context) (domain.Collection, error) {
		return p.svc.Clear(ctx)
	})
}

// Sync forces a reconcile with the server.
func (p *Provider) Sync(ctx context.Context) (View, error) {
	return p.mutate(ctx, func(ctx context.Context) (domain.Collection, error) {
		if err := p.svc.Sync(ctx); err != nil {
			return p.svc.Local(ctx), err
		}
		return p.svc.Items(ctx)
	})
}

// Refresh reloads the collection.
func (p *Provider) Refresh(ctx context.Context) (View, error) {
	p.update(func(v *View) { v.IsLoading = true })
	col, err := p.svc.Items(ctx)
	p.publishCollection(ctx, col, err)
	return p.View(), err
}

// SignIn switches to owner's collection; an empty owner is a guest.
func (p *Provider) SignIn(ctx context.Context, owner string) error {
	p.update(func(v *View) { v.IsLoading = true })
	_, err := p.svc.Initialize(ctx, owner)
	if err != nil {
		p.log.WithError(err).Warn("initialization failed")
	}
	p.publishCollection(ctx, p.svc.Local(ctx), err)
	return err
}

func (p *Provider) SignOut(ctx context.Context) {
	p.svc.SignOut(ctx)
	p.publishCollection(ctx, p.svc.Local(ctx), nil)
}

// mutate runs one write at a time; an overlapping call gets ErrBusy.
func (p *Provider) mutate(ctx context.Context, fn func(ctx context.Context) (domain.Collection, error)) (View, error) {
	if !p.updating.CompareAndSwap(false, true) {
		return p.View(), ErrBusy
	}

	p.update(func(v *View) { v.IsUpdating = true })
	col, err := fn(ctx)
	if col.Kind == "" {
		// the write was rejected before touching the collection
		col = p.svc.Local(ctx)
	}
	p.updating.Store(false)
	p.publishCollection(ctx, col, err)
	return p.View(), err
}

// publishCollection derives the view from col and the service state.
func (p *Provider) publishCollection(ctx context.Context, col domain.Collection, err error) {
	st := p.svc.State(ctx)
	if err == nil {
		err = st.LastError
	}
	items := make([]domain.Item, len(col.Items))
	copy(items, col.Items)

	p.update(func(v *View) {
		v.Items = items
		v.ItemCount = col.Count()
		v.TotalAmount = col.Total()
		v.IsLoading = false
		v.IsUpdating = p.updating.Load()
		v.Mode = st.Mode
		v.SyncStatus = st.SyncStatus
		v.OwnerID = st.OwnerID
		v.IsOnline = st.Online
		v.Pending = st.Pending
		v.Err = err
	})
}

func (p *Provider) update(fn func(v *View)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn(&p.view)
	for _, ch := range p.subs {
		v := copyView(p.view)
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func copyView(v View) View {
	out := v
	out.Items = make([]domain.Item, len(v.Items))
	copy(out.Items, v.Items)
	return out
}
