package repository

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

type memoryRepository struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryRepository keeps collections in process memory. It backs the dev
// server when no MongoDB is configured.
func NewMemoryRepository() CollectionRepository {
	return &memoryRepository{docs: make(map[string]*Document)}
}

func memoryKey(kind domain.Kind, ownerID string) string {
	return string(kind) + "/" + ownerID
}

func (m *memoryRepository) Get(_ context.Context, kind domain.Kind, ownerID string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[memoryKey(kind, ownerID)]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	out := *doc
	out.Items = append([]domain.Item{}, doc.Items...)
	return &out, nil
}

func (m *memoryRepository) AddItem(_ context.Context, kind domain.Kind, ownerID string, item domain.Item) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := memoryKey(kind, ownerID)
	doc, ok := m.docs[key]
	if !ok {
		doc = &Document{OwnerID: ownerID, Kind: kind, Items: []domain.Item{}, CreatedAt: now}
		m.docs[key] = doc
	}
	doc.UpdatedAt = now

	for i := range doc.Items {
		existing := &doc.Items[i]
		if existing.ProductID != item.ProductID {
			continue
		}
		if kind == domain.KindCart {
			qty, err := domain.MergeQuantity(existing.Quantity, item.Quantity)
			if err != nil {
				return domain.Item{}, err
			}
			existing.Quantity = qty
		} else {
			id := existing.ID
			*existing = item
			existing.ID = id
			existing.AddedAt = now
		}
		existing.UpdatedAt = now
		return *existing, nil
	}

	item.ID = uuid.NewString()
	item.AddedAt = now
	item.UpdatedAt = now
	doc.Items = append(doc.Items, item)
	return item, nil
}

func (m *memoryRepository) UpdateItemQuantity(_ context.Context, kind domain.Kind, ownerID, productID string, quantity int) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[memoryKey(kind, ownerID)]
	if !ok {
		return domain.Item{}, ErrItemNotFound
	}
	for i := range doc.Items {
		if doc.Items[i].ProductID == productID {
			now := time.Now().UTC()
			doc.Items[i].Quantity = quantity
			doc.Items[i].UpdatedAt = now
			doc.UpdatedAt = now
			return doc.Items[i], nil
		}
	}
	return domain.Item{}, ErrItemNotFound
}

func (m *memoryRepository) RemoveItem(_ context.Context, kind domain.Kind, ownerID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[memoryKey(kind, ownerID)]
	if !ok {
		return ErrCollectionNotFound
	}
	for i := range doc.Items {
		if doc.Items[i].ProductID == productID {
			doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
			doc.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *memoryRepository) Delete(_ context.Context, kind domain.Kind, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(kind, ownerID)
	if _, ok := m.docs[key]; !ok {
		return ErrCollectionNotFound
	}
	delete(m.docs, key)
	return nil
}
