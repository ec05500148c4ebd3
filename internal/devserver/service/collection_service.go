package service

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/devserver/cache"
	"github.com/fjod/go_cart/storefront/internal/devserver/repository"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CollectionService serves carts and saved lists from the repository with a
// read-through cache in front.
type CollectionService struct {
	repo     repository.CollectionRepository
	products repository.ProductRepository
	cache    cache.CollectionCache
	log      logrus.FieldLogger
	sfg      singleflight.Group
}

func NewCollectionService(repo repository.CollectionRepository, products repository.ProductRepository, c cache.CollectionCache, log logrus.FieldLogger) *CollectionService {
	if c == nil {
		c = cache.Noop{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CollectionService{
		repo:     repo,
		products: products,
		cache:    c,
		log:      log.WithField("component", "collection-service"),
	}
}

func (s *CollectionService) Get(ctx context.Context, kind domain.Kind, ownerID string) (*repository.Document, error) {
	v, err, _ := s.sfg.Do(string(kind)+":"+ownerID, func() (interface{}, error) {
		doc, err := s.cache.Get(ctx, kind, ownerID)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WithError(err).Warn("cache get error")
		}

		doc, err = s.repo.Get(ctx, kind, ownerID)
		if errors.Is(err, repository.ErrCollectionNotFound) {
			now := time.Now().UTC()
			return &repository.Document{
				OwnerID:   ownerID,
				Kind:      kind,
				Items:     []domain.Item{},
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		}
		if err != nil {
			return nil, err
		}

		go func(doc repository.Document) {
			if err := s.cache.Set(context.Background(), &doc); err != nil {
				s.log.WithError(err).Warn("cache set error")
			}
		}(*doc)

		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*repository.Document), nil
}

// AddItem merges item into the owner's collection. Missing name and price
// are filled in from the catalog.
func (s *CollectionService) AddItem(ctx context.Context, kind domain.Kind, ownerID string, item domain.Item) (domain.Item, error) {
	switch kind {
	case domain.KindCart:
		if item.Quantity == 0 {
			item.Quantity = 1
		}
	default:
		item.Quantity = 0
	}
	if err := domain.ValidateItem(item); err != nil {
		return domain.Item{}, err
	}
	s.enrich(ctx, &item)

	added, err := s.repo.AddItem(ctx, kind, ownerID, item)
	if err != nil {
		s.log.WithError(err).Error("repo add item error")
		return domain.Item{}, err
	}

	s.invalidateCache(kind, ownerID)
	return added, nil
}

func (s *CollectionService) UpdateQuantity(ctx context.Context, kind domain.Kind, ownerID, productID string, quantity int) (domain.Item, error) {
	if kind != domain.KindCart {
		return domain.Item{}, domain.ErrUnsupported
	}
	if quantity < 1 || quantity > domain.MaxQuantity {
		return domain.Item{}, domain.ErrInvalidItem
	}

	item, err := s.repo.UpdateItemQuantity(ctx, kind, ownerID, productID, quantity)
	if err != nil {
		s.log.WithError(err).Error("repo update item quantity error")
		return domain.Item{}, err
	}

	s.invalidateCache(kind, ownerID)
	return item, nil
}

func (s *CollectionService) RemoveItem(ctx context.Context, kind domain.Kind, ownerID, productID string) error {
	if err := s.repo.RemoveItem(ctx, kind, ownerID, productID); err != nil {
		if !errors.Is(err, repository.ErrItemNotFound) && !errors.Is(err, repository.ErrCollectionNotFound) {
			s.log.WithError(err).Error("repo remove item error")
		}
		return err
	}

	s.invalidateCache(kind, ownerID)
	return nil
}

func (s *CollectionService) Clear(ctx context.Context, kind domain.Kind, ownerID string) error {
	err := s.repo.Delete(ctx, kind, ownerID)
	if err != nil && !errors.Is(err, repository.ErrCollectionNotFound) {
		s.log.WithError(err).Error("repo delete collection error")
		return err
	}

	s.invalidateCache(kind, ownerID)
	return nil
}

func (s *CollectionService) enrich(ctx context.Context, item *domain.Item) {
	if s.products == nil || (item.Name != "" && item.Price > 0) {
		return
	}
	p, err := s.products.GetProduct(ctx, item.ProductID)
	if err != nil {
		return
	}
	if item.Name == "" {
		item.Name = p.Name
	}
	if item.Price == 0 {
		item.Price = p.Price
	}
}

func (s *CollectionService) invalidateCache(kind domain.Kind, ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, kind, ownerID); err != nil {
		s.log.WithError(err).Warn("cache invalidate error")
	}
}
