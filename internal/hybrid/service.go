package hybrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/localstore"
	"github.com/fjod/go_cart/storefront/internal/queue"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/fjod/go_cart/storefront/internal/reporter"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/fjod/go_cart/storefront/internal/hybrid"

type Config struct {
	Kind     domain.Kind
	Backend  localstore.Backend
	Remote   remote.Store
	Catalog  catalog.Lookup // guest cart validation, optional
	Reporter reporter.FailureReporter

	MaxRetries     int
	ReplayRate     float64
	SavedRetention time.Duration
	Clock          localstore.Clock
	Logger         logrus.FieldLogger
}

// Service keeps one collection (cart or saved list) consistent between the
// device and the server. Guests only touch local storage. Authenticated users
// write to the server first and keep a per-owner local mirror; writes that
// cannot reach the server are applied to the mirror and queued.
type Service struct {
	cfg    Config
	kind   domain.Kind
	remote remote.Store
	guest  *localstore.Store
	log    logrus.FieldLogger
	tracer trace.Tracer
	sfg    singleflight.Group

	// migrateMu keeps two reconciles from sending the same guest item twice.
	migrateMu sync.Mutex

	mu               sync.RWMutex
	mode             domain.Mode
	status           domain.SyncStatus
	owner            string
	online           bool
	migrationPending bool
	lastErr          error
	mirror           *localstore.Store
	queue            *queue.Queue
}

// session is the part of the state an operation needs, copied under the lock
// so that remote calls run without holding it.
type session struct {
	owner  string
	online bool
	mirror *localstore.Store
	queue  *queue.Queue
}

func (s session) guest() bool {
	return s.owner == ""
}

func NewService(cfg Config) (*Service, error) {
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("invalid collection kind %q", cfg.Kind)
	}
	if cfg.Backend == nil {
		return nil, errors.New("local storage backend is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("remote store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = domain.DefaultMaxRetries
	}
	if cfg.ReplayRate == 0 {
		cfg.ReplayRate = queue.DefaultReplayRate
	}

	log := cfg.Logger.WithFields(logrus.Fields{"component": "hybrid", "kind": cfg.Kind})
	s := &Service{
		cfg:    cfg,
		kind:   cfg.Kind,
		remote: cfg.Remote,
		log:    log,
		tracer: otel.Tracer(tracerName),
		mode:   domain.ModeGuest,
		status: domain.SyncStatusIdle,
		online: true,
	}
	s.guest = s.openStore("")
	return s, nil
}

func (s *Service) Kind() domain.Kind {
	return s.kind
}

func (s *Service) openStore(owner string) *localstore.Store {
	return localstore.New(s.cfg.Backend, s.kind, owner,
		localstore.WithClock(s.cfg.Clock),
		localstore.WithRetention(s.cfg.SavedRetention),
		localstore.WithLogger(s.cfg.Logger),
	)
}

func (s *Service) openQueue(owner string) *queue.Queue {
	return queue.New(s.cfg.Backend, s.kind, owner,
		queue.WithMaxRetries(s.cfg.MaxRetries),
		queue.WithReporter(s.cfg.Reporter),
		queue.WithReplayRate(s.cfg.ReplayRate),
		queue.WithLogger(s.cfg.Logger),
	)
}

func (s *Service) session() session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return session{owner: s.owner, online: s.online, mirror: s.mirror, queue: s.queue}
}

// Initialize enters guest mode for an empty owner. For a user it opens the
// owner's mirror and queue and, when online, migrates the guest collection,
// replays queued operations and reloads the collection from the server.
func (s *Service) Initialize(ctx context.Context, owner string) (State, error) {
	ctx, span := s.startSpan(ctx, "Initialize")
	defer span.End()

	if owner == "" {
		s.enterGuest()
		return s.State(ctx), nil
	}

	s.mu.Lock()
	if s.owner != owner {
		s.mirror = s.openStore(owner)
		s.queue = s.openQueue(owner)
	}
	s.owner = owner
	s.mode = domain.ModeAuthenticated
	s.status = domain.SyncStatusSyncing
	s.lastErr = nil
	s.mu.Unlock()

	s.log.WithField("owner", owner).Info("authenticated session started")

	err := s.reconcile(ctx)
	recordError(span, err)
	return s.State(ctx), err
}

// SignOut returns to guest mode. Nothing from the user's collection is copied
// into guest storage; the user's mirror and queue stay on disk for the next
// sign-in.
func (s *Service) SignOut(ctx context.Context) State {
	_, span := s.startSpan(ctx, "SignOut")
	defer span.End()

	s.enterGuest()
	return s.State(ctx)
}

func (s *Service) enterGuest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = ""
	s.mode = domain.ModeGuest
	s.status = domain.SyncStatusIdle
	s.migrationPending = false
	s.lastErr = nil
	s.mirror = nil
	s.queue = nil
}

// SetOnline records reachability. Going online while signed in retries a
// pending migration, replays the queue and reloads from the server.
func (s *Service) SetOnline(ctx context.Context, online bool) error {
	s.mu.Lock()
	was := s.online
	s.online = online
	authenticated := s.owner != ""
	s.mu.Unlock()

	if !online || was || !authenticated {
		return nil
	}

	ctx, span := s.startSpan(ctx, "Reconnect")
	defer span.End()
	s.log.Info("back online, reconciling")
	err := s.reconcile(ctx)
	recordError(span, err)
	return err
}

// Sync forces a reconcile pass. It is a no-op for guests.
func (s *Service) Sync(ctx context.Context) error {
	if s.session().guest() {
		return nil
	}
	ctx, span := s.startSpan(ctx, "Sync")
	defer span.End()

	err := s.reconcile(ctx)
	recordError(span, err)
	return err
}

// reconcile runs migration, drain and reload in that order. The server wins
// once nothing is left in the queue.
func (s *Service) reconcile(ctx context.Context) error {
	sess := s.session()
	if sess.guest() {
		return nil
	}
	if !sess.online {
		s.settle(ctx, sess, s.offlineMigrationError(ctx), false)
		return nil
	}

	s.setStatus(sess.owner, domain.SyncStatusSyncing)

	migErr := s.migrate(ctx, sess.owner)
	if errors.Is(migErr, domain.ErrUnauthorized) {
		s.fail(sess.owner, migErr)
		return domain.ErrUnauthorized
	}

	if err := s.drain(ctx, sess); errors.Is(err, domain.ErrUnauthorized) {
		s.fail(sess.owner, err)
		return domain.ErrUnauthorized
	}

	_, err := s.reload(ctx, sess)
	if errors.Is(err, domain.ErrUnauthorized) {
		s.fail(sess.owner, err)
		return domain.ErrUnauthorized
	}
	if migErr == nil {
		migErr = err
	}

	s.settle(ctx, sess, migErr, err == nil)
	return nil
}

// offlineMigrationError reports guest items that cannot be migrated because
// the server is unreachable. It is nil when there is nothing to migrate.
func (s *Service) offlineMigrationError(ctx context.Context) error {
	guest := s.guest.Get(ctx)
	if len(guest.Items) == 0 {
		return nil
	}
	failed := make([]string, 0, len(guest.Items))
	for _, item := range guest.Items {
		failed = append(failed, item.ProductID)
	}
	return &MigrationError{Failed: failed, Cause: domain.ErrUnavailable}
}

func (s *Service) drain(ctx context.Context, sess session) error {
	res, err := sess.queue.Drain(ctx, s.replay)
	if errors.Is(err, queue.ErrDrainInProgress) {
		return nil
	}
	if res.Succeeded > 0 || res.Dropped > 0 {
		s.log.WithFields(logrus.Fields{
			"replayed":  res.Succeeded,
			"dropped":   res.Dropped,
			"remaining": res.Remaining,
		}).Info("queue drained")
	}
	return err
}

func (s *Service) replay(ctx context.Context, op domain.QueuedOperation) error {
	switch op.Operation {
	case domain.OperationAdd:
		item := domain.Item{ProductID: op.Data.ProductID, Quantity: op.Data.Quantity}
		if op.Data.Item != nil {
			item = *op.Data.Item
		}
		_, err := s.remote.AddItem(ctx, op.Kind, op.OwnerID, item)
		return err
	case domain.OperationRemove:
		return s.remote.RemoveItem(ctx, op.Kind, op.OwnerID, op.Data.ProductID)
	case domain.OperationUpdateQuantity:
		_, err := s.remote.UpdateQuantity(ctx, op.Kind, op.OwnerID, op.Data.ProductID, op.Data.Quantity)
		return err
	default:
		return fmt.Errorf("%w: unknown operation %q", domain.ErrUnsupported, op.Operation)
	}
}

// reload overwrites the mirror with the server collection when no queued
// operation is waiting; otherwise the mirror already holds the optimistic
// state and is returned as is.
func (s *Service) reload(ctx context.Context, sess session) (domain.Collection, error) {
	if sess.queue.Len(ctx) > 0 {
		return sess.mirror.Get(ctx), nil
	}

	v, err, _ := s.sfg.Do(sess.owner, func() (interface{}, error) {
		return s.remote.List(ctx, s.kind, sess.owner)
	})
	if err != nil {
		s.log.WithError(err).Warn("failed to load collection from server")
		return sess.mirror.Get(ctx), err
	}

	// a write queued while the list was in flight must not be overwritten
	if sess.queue.Len(ctx) > 0 {
		return sess.mirror.Get(ctx), nil
	}
	col := v.(domain.Collection).Clone()
	return sess.mirror.Replace(ctx, col.Items), nil
}

// Items returns the collection: local for guests, the server copy for users
// when it can be loaded and nothing is queued, the mirror otherwise.
func (s *Service) Items(ctx context.Context) (domain.Collection, error) {
	ctx, span := s.startSpan(ctx, "Items")
	defer span.End()

	sess := s.session()
	if sess.guest() {
		return s.guest.Get(ctx), nil
	}
	if !sess.online {
		return sess.mirror.Get(ctx), nil
	}

	col, err := s.reload(ctx, sess)
	if errors.Is(err, domain.ErrUnauthorized) {
		s.fail(sess.owner, err)
		recordError(span, err)
		return col, domain.ErrUnauthorized
	}
	s.settle(ctx, sess, err, err == nil)
	return col, nil
}

// Local returns the device copy of the collection without contacting the
// server: guest storage or the owner's mirror.
func (s *Service) Local(ctx context.Context) domain.Collection {
	sess := s.session()
	if sess.guest() {
		return s.guest.Get(ctx)
	}
	return sess.mirror.Get(ctx)
}

// Count is the item count of the current collection without a server round trip.
func (s *Service) Count(ctx context.Context) int {
	return s.Local(ctx).Count()
}

func (s *Service) Add(ctx context.Context, item domain.Item) (domain.Collection, error) {
	if err := domain.ValidateItem(item); err != nil {
		return domain.Collection{}, err
	}
	switch s.kind {
	case domain.KindCart:
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		local := s.Local(ctx)
		if idx := local.IndexOf(item.ProductID); idx >= 0 {
			if _, err := domain.MergeQuantity(local.Items[idx].Quantity, item.Quantity); err != nil {
				return local, err
			}
		}
	case domain.KindSaved:
		item.Quantity = 0
	}

	queued := item
	return s.apply(ctx, mutation{
		name: "Add",
		op:   domain.OperationAdd,
		data: domain.OperationData{ProductID: item.ProductID, Quantity: item.Quantity, Item: &queued},
		remote: func(ctx context.Context, owner string) error {
			_, err := s.remote.AddItem(ctx, s.kind, owner, item)
			return err
		},
		local: func(ctx context.Context, st *localstore.Store) (domain.Collection, error) {
			return st.Add(ctx, item)
		},
	})
}

func (s *Service) Remove(ctx context.Context, productID string) (domain.Collection, error) {
	return s.apply(ctx, mutation{
		name: "Remove",
		op:   domain.OperationRemove,
		data: domain.OperationData{ProductID: productID},
		remote: func(ctx context.Context, owner string) error {
			return s.remote.RemoveItem(ctx, s.kind, owner, productID)
		},
		local: func(ctx context.Context, st *localstore.Store) (domain.Collection, error) {
			return st.Remove(ctx, productID), nil
		},
	})
}

// UpdateQuantity sets a cart line's quantity. Zero or less removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, productID string, quantity int) (domain.Collection, error) {
	if s.kind != domain.KindCart {
		return domain.Collection{}, domain.ErrUnsupported
	}
	if quantity <= 0 {
		return s.Remove(ctx, productID)
	}
	if quantity > domain.MaxQuantity {
		return domain.Collection{}, fmt.Errorf("%w: quantity %d out of range", domain.ErrInvalidItem, quantity)
	}

	return s.apply(ctx, mutation{
		name: "UpdateQuantity",
		op:   domain.OperationUpdateQuantity,
		data: domain.OperationData{ProductID: productID, Quantity: quantity},
		remote: func(ctx context.Context, owner string) error {
			_, err := s.remote.UpdateQuantity(ctx, s.kind, owner, productID, quantity)
			return err
		},
		local: func(ctx context.Context, st *localstore.Store) (domain.Collection, error) {
			return st.UpdateQuantity(ctx, productID, quantity)
		},
	})
}

// Clear removes every line. For users it is a series of removals so that it
// queues and replays like any other write.
func (s *Service) Clear(ctx context.Context) (domain.Collection, error) {
	sess := s.session()
	if sess.guest() {
		return s.guest.Clear(ctx), nil
	}

	col := sess.mirror.Get(ctx)
	for _, item := range col.Items {
		var err error
		col, err = s.Remove(ctx, item.ProductID)
		if err != nil {
			return col, err
		}
	}
	return col, nil
}

type mutation struct {
	name   string
	op     domain.OperationType
	data   domain.OperationData
	remote func(ctx context.Context, owner string) error
	local  func(ctx context.Context, st *localstore.Store) (domain.Collection, error)
}

// apply runs a write in the current mode. Writes go straight to the server
// only when online with an empty queue, so they never overtake queued ones.
func (s *Service) apply(ctx context.Context, m mutation) (domain.Collection, error) {
	ctx, span := s.startSpan(ctx, m.name, attribute.String("product_id", m.data.ProductID))
	defer span.End()

	sess := s.session()
	if sess.guest() {
		col, err := m.local(ctx, s.guest)
		recordError(span, err)
		return col, err
	}

	log := s.log.WithFields(logrus.Fields{"operation": m.op, "product_id": m.data.ProductID})

	behind := sess.queue.Len(ctx) > 0
	if sess.online && !behind {
		err := m.remote(ctx, sess.owner)
		switch {
		case err == nil:
			if _, err := m.local(ctx, sess.mirror); err != nil {
				log.WithError(err).Warn("failed to mirror remote write")
			}
			col, listErr := s.reload(ctx, sess)
			if errors.Is(listErr, domain.ErrUnauthorized) {
				s.fail(sess.owner, listErr)
			} else {
				s.settle(ctx, sess, nil, true)
			}
			return col, nil

		case errors.Is(err, domain.ErrUnauthorized):
			col, localErr := m.local(ctx, sess.mirror)
			if localErr != nil {
				return col, localErr
			}
			s.fail(sess.owner, err)
			recordError(span, err)
			return col, domain.ErrUnauthorized

		case !domain.IsRetryable(err):
			recordError(span, err)
			return sess.mirror.Get(ctx), err
		}
		log.WithError(err).Warn("remote write failed, queueing")
	}

	col, err := m.local(ctx, sess.mirror)
	if err != nil {
		recordError(span, err)
		return col, err
	}
	if _, err := sess.queue.Enqueue(ctx, m.op, m.data); err != nil {
		log.WithError(err).Error("failed to queue operation")
	}
	span.SetAttributes(attribute.Bool("queued", true))

	if sess.online && behind {
		// earlier operations are waiting; try to push everything now
		if err := s.drain(ctx, sess); errors.Is(err, domain.ErrUnauthorized) {
			s.fail(sess.owner, err)
			return sess.mirror.Get(ctx), domain.ErrUnauthorized
		}
		col, _ = s.reload(ctx, sess)
	}
	s.settle(ctx, sess, nil, false)
	return col, nil
}

func (s *Service) setStatus(owner string, status domain.SyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == owner {
		s.status = status
	}
}

// fail marks the session as needing attention.
func (s *Service) fail(owner string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != owner {
		return
	}
	s.status = domain.SyncStatusError
	s.lastErr = err
	s.log.WithError(err).Warn("sync failed")
}

// settle derives the status after a sync step. err is a transient failure of
// that step. reached reports that the server accepted a request, which
// clears an earlier authorization failure.
func (s *Service) settle(ctx context.Context, sess session, err error, reached bool) {
	pending := sess.queue.Len(ctx)
	migrationPending := s.guest.Count(ctx) > 0

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != sess.owner {
		return
	}
	s.migrationPending = migrationPending
	if reached && errors.Is(s.lastErr, domain.ErrUnauthorized) {
		s.lastErr = nil
	}
	switch {
	case err != nil:
		s.status = domain.SyncStatusError
		s.lastErr = err
	case errors.Is(s.lastErr, domain.ErrUnauthorized):
		s.status = domain.SyncStatusError
	case migrationPending && s.lastErr != nil:
		s.status = domain.SyncStatusError
	case pending > 0 || migrationPending:
		s.status = domain.SyncStatusSyncing
		s.lastErr = nil
	default:
		s.status = domain.SyncStatusSynced
		s.lastErr = nil
	}
}

// State returns a snapshot of the sync state.
func (s *Service) State(ctx context.Context) State {
	sess := s.session()

	s.mu.RLock()
	st := State{
		Kind:             s.kind,
		Mode:             s.mode,
		SyncStatus:       s.status,
		OwnerID:          s.owner,
		Online:           s.online,
		MigrationPending: s.migrationPending,
		LastError:        s.lastErr,
	}
	s.mu.RUnlock()

	if sess.queue != nil {
		st.Pending = sess.queue.Len(ctx)
	}
	return st
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("collection.kind", s.kind.String()))
	return s.tracer.Start(ctx, "hybrid."+name, trace.WithAttributes(attrs...))
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
