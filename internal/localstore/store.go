package localstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSavedRetention is how long a saved-for-later item stays visible.
	DefaultSavedRetention = 30 * 24 * time.Hour

	maxWriteAttempts = 5
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// snapshot is the persisted shape of a collection.
type snapshot struct {
	Items        []domain.Item `json:"items"`
	LastModified time.Time     `json:"lastModified"`
}

// Store is the local copy of one collection (cart or saved list) for one
// owner scope. Every write reads the whole collection, changes it and writes
// it back guarded by the record version.
type Store struct {
	kind      domain.Kind
	key       string
	clock     Clock
	retention time.Duration
	log       logrus.FieldLogger

	mu       sync.Mutex
	backend  Backend
	degraded bool
}

type Option func(*Store)

func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Key is the storage key of a collection. An empty owner is the guest scope.
func Key(kind domain.Kind, owner string) string {
	if owner == "" {
		return fmt.Sprintf("storefront:%s:guest", kind)
	}
	return fmt.Sprintf("storefront:%s:user:%s", kind, owner)
}

func New(backend Backend, kind domain.Kind, owner string, opts ...Option) *Store {
	s := &Store{
		kind:      kind,
		key:       Key(kind, owner),
		clock:     systemClock{},
		retention: DefaultSavedRetention,
		log:       logrus.StandardLogger(),
		backend:   backend,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(logrus.Fields{"component": "localstore", "key": s.key})
	return s
}

func (s *Store) Kind() domain.Kind {
	return s.kind
}

// Degraded reports whether the store switched to its in-memory fallback.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Get returns the current collection. It never fails: missing or unreadable
// storage yields an empty collection. Expired saved items are left out.
func (s *Store) Get(ctx context.Context) domain.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, _ := s.load(ctx)
	return s.withoutExpired(c)
}

func (s *Store) Count(ctx context.Context) int {
	return s.Get(ctx).Count()
}

// Add merges item into the collection by product id: quantities are summed
// for the cart, the snapshot is refreshed for the saved list.
func (s *Store) Add(ctx context.Context, item domain.Item) (domain.Collection, error) {
	if err := domain.ValidateItem(item); err != nil {
		return domain.Collection{}, err
	}
	if s.kind == domain.KindCart && item.Quantity == 0 {
		item.Quantity = 1
	}
	if s.kind == domain.KindSaved {
		item.Quantity = 0
	}

	var mergeErr error
	c, err := s.mutate(ctx, func(c *domain.Collection, now time.Time) bool {
		mergeErr = nil
		idx := c.IndexOf(item.ProductID)
		if idx < 0 {
			if item.ID == "" {
				item.ID = NewID()
			}
			if item.AddedAt.IsZero() {
				item.AddedAt = now
			}
			item.UpdatedAt = now
			c.Items = append(c.Items, item)
			return true
		}

		existing := &c.Items[idx]
		if s.kind == domain.KindCart {
			qty, err := domain.MergeQuantity(existing.Quantity, item.Quantity)
			if err != nil {
				mergeErr = err
				return false
			}
			existing.Quantity = qty
			existing.UpdatedAt = now
			return true
		}

		id := existing.ID
		*existing = item
		existing.ID = id
		existing.AddedAt = now
		existing.UpdatedAt = now
		return true
	})
	if err == nil {
		err = mergeErr
	}
	return c, err
}

// Remove deletes the line for productID. Removing an absent product is a no-op.
func (s *Store) Remove(ctx context.Context, productID string) domain.Collection {
	c, _ := s.mutate(ctx, func(c *domain.Collection, _ time.Time) bool {
		idx := c.IndexOf(productID)
		if idx < 0 {
			return false
		}
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		return true
	})
	return c
}

// UpdateQuantity sets the quantity of a cart line; zero or less removes it.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) (domain.Collection, error) {
	if s.kind != domain.KindCart {
		return domain.Collection{}, domain.ErrUnsupported
	}
	if quantity <= 0 {
		return s.Remove(ctx, productID), nil
	}
	return s.mutate(ctx, func(c *domain.Collection, now time.Time) bool {
		idx := c.IndexOf(productID)
		if idx < 0 || c.Items[idx].Quantity == quantity {
			return false
		}
		c.Items[idx].Quantity = quantity
		c.Items[idx].UpdatedAt = now
		return true
	})
}

func (s *Store) Clear(ctx context.Context) domain.Collection {
	c, _ := s.mutate(ctx, func(c *domain.Collection, _ time.Time) bool {
		if len(c.Items) == 0 {
			return false
		}
		c.Items = []domain.Item{}
		return true
	})
	return c
}

// Replace overwrites the collection, used to mirror the server state. An
// identical collection is not written again.
func (s *Store) Replace(ctx context.Context, items []domain.Item) domain.Collection {
	want, _ := json.Marshal(items)
	c, _ := s.mutate(ctx, func(c *domain.Collection, _ time.Time) bool {
		have, _ := json.Marshal(c.Items)
		if len(items) == len(c.Items) && bytes.Equal(have, want) {
			return false
		}
		c.Items = append([]domain.Item{}, items...)
		return true
	})
	return c
}

// mutate runs fn on a fresh copy of the collection and persists the result
// when fn reports a change. Version conflicts with another writer restart the
// read-modify-write cycle.
func (s *Store) mutate(ctx context.Context, fn func(c *domain.Collection, now time.Time) bool) (domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		c, version := s.load(ctx)
		now := s.clock.Now().UTC()
		purged := s.purgeExpired(&c, now)

		if !fn(&c, now) && !purged {
			return s.withoutExpired(c), nil
		}
		c.LastModified = now

		data, err := json.Marshal(snapshot{Items: c.Items, LastModified: c.LastModified})
		if err != nil {
			return domain.Collection{}, fmt.Errorf("failed to encode collection: %w", err)
		}

		next, err := s.backend.Save(ctx, s.key, data, version)
		if err == nil {
			c.Version = next
			return c, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			s.log.WithField("attempt", attempt).Debug("version conflict, retrying write")
			continue
		}

		s.fallBack(ctx, data, err)
		c.Version = 1
		return c, nil
	}

	s.log.Warn("giving up write after repeated version conflicts")
	c, _ := s.load(ctx)
	return s.withoutExpired(c), nil
}

func (s *Store) load(ctx context.Context) (domain.Collection, int64) {
	c := domain.NewCollection(s.kind)

	rec, err := s.backend.Load(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.fallBack(ctx, nil, err)
		}
		return c, 0
	}

	var snap snapshot
	if err := json.Unmarshal(rec.Data, &snap); err != nil {
		s.log.WithError(err).Error("stored collection is corrupt, starting empty")
		c.Version = rec.Version
		return c, rec.Version
	}
	if snap.Items != nil {
		c.Items = snap.Items
	}
	c.LastModified = snap.LastModified
	c.Version = rec.Version
	return c, rec.Version
}

// fallBack switches to an in-memory backend for the rest of the session.
// pending is the encoded collection that could not be written, if any.
func (s *Store) fallBack(ctx context.Context, pending []byte, cause error) {
	if s.degraded {
		s.log.WithError(cause).Warn("in-memory storage failed")
		return
	}
	s.log.WithError(cause).Error("local storage unavailable, keeping data in memory for this session")

	mem := NewMemoryBackend()
	if pending != nil {
		_, _ = mem.Save(ctx, s.key, pending, 0)
	}
	s.backend = mem
	s.degraded = true
}

func (s *Store) purgeExpired(c *domain.Collection, now time.Time) bool {
	if s.kind != domain.KindSaved {
		return false
	}
	kept := c.Items[:0]
	for _, item := range c.Items {
		if !s.expired(item, now) {
			kept = append(kept, item)
		}
	}
	purged := len(kept) != len(c.Items)
	c.Items = kept
	return purged
}

func (s *Store) withoutExpired(c domain.Collection) domain.Collection {
	if s.kind != domain.KindSaved {
		return c
	}
	now := s.clock.Now().UTC()
	out := c
	out.Items = make([]domain.Item, 0, len(c.Items))
	for _, item := range c.Items {
		if !s.expired(item, now) {
			out.Items = append(out.Items, item)
		}
	}
	return out
}

func (s *Store) expired(item domain.Item, now time.Time) bool {
	return !item.AddedAt.IsZero() && now.Sub(item.AddedAt) > s.retention
}

// NewID returns a time ordered identifier for locally created records.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
