package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrItemNotFound       = errors.New("item not found in collection")
)

// Document is one owner's collection as stored by the backend.
type Document struct {
	ID        string        `bson:"_id,omitempty" json:"-"`
	OwnerID   string        `bson:"owner_id" json:"ownerId"`
	Kind      domain.Kind   `bson:"kind" json:"kind"`
	Items     []domain.Item `bson:"items" json:"items"`
	CreatedAt time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updatedAt"`
}

// CollectionRepository persists carts and saved lists. AddItem merges by
// product id: cart quantities are summed, a saved item's snapshot is
// replaced.
type CollectionRepository interface {
	Get(ctx context.Context, kind domain.Kind, ownerID string) (*Document, error)
	AddItem(ctx context.Context, kind domain.Kind, ownerID string, item domain.Item) (domain.Item, error)
	UpdateItemQuantity(ctx context.Context, kind domain.Kind, ownerID, productID string, quantity int) (domain.Item, error)
	RemoveItem(ctx context.Context, kind domain.Kind, ownerID, productID string) error
	Delete(ctx context.Context, kind domain.Kind, ownerID string) error
}
