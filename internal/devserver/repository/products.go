package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/catalog"
)

var ErrProductNotFound = errors.New("product not found")

// ProductRepository is the read side of the dev catalog plus the setters the
// CLI uses to simulate price changes and discontinued products.
type ProductRepository interface {
	GetProduct(ctx context.Context, productID string) (catalog.Product, error)
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	UpsertProduct(ctx context.Context, p catalog.Product) error
	DeleteProduct(ctx context.Context, productID string) error
}

type productRepository struct {
	mu       sync.RWMutex
	products map[string]catalog.Product
}

func NewProductRepository(seed ...catalog.Product) ProductRepository {
	r := &productRepository{products: make(map[string]catalog.Product, len(seed))}
	for _, p := range seed {
		r.products[p.ProductID] = p
	}
	return r
}

// DefaultProducts seeds the dev server.
func DefaultProducts() []catalog.Product {
	return []catalog.Product{
		{ProductID: "sku-1001", Name: "Linen Shirt", Price: 3999, Available: true},
		{ProductID: "sku-1002", Name: "Wool Scarf", Price: 2450, Available: true},
		{ProductID: "sku-1003", Name: "Canvas Sneakers", Price: 6500, Available: true},
		{ProductID: "sku-1004", Name: "Leather Belt", Price: 1999, Available: false},
		{ProductID: "sku-1005", Name: "Denim Jacket", Price: 8900, Available: true},
	}
}

func (r *productRepository) GetProduct(_ context.Context, productID string) (catalog.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[productID]
	if !ok {
		return catalog.Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *productRepository) ListProducts(_ context.Context) ([]catalog.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]catalog.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (r *productRepository) UpsertProduct(_ context.Context, p catalog.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ProductID] = p
	return nil
}

func (r *productRepository) DeleteProduct(_ context.Context, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[productID]; !ok {
		return ErrProductNotFound
	}
	delete(r.products, productID)
	return nil
}
