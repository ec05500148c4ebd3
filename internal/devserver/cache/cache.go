package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/devserver/repository"
	"github.com/fjod/go_cart/storefront/internal/domain"
)

type CollectionCache interface {
	Get(ctx context.Context, kind domain.Kind, ownerID string) (*repository.Document, error)
	Set(ctx context.Context, doc *repository.Document) error
	Delete(ctx context.Context, kind domain.Kind, ownerID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Noop never stores anything. Used when no Redis address is configured.
type Noop struct{}

func (Noop) Get(context.Context, domain.Kind, string) (*repository.Document, error) {
	return nil, ErrCacheMiss
}

func (Noop) Set(context.Context, *repository.Document) error { return nil }

func (Noop) Delete(context.Context, domain.Kind, string) error { return nil }
