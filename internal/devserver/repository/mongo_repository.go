package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionTTL = 90 * 24 * time.Hour

type mongoRepository struct {
	collections map[domain.Kind]*mongo.Collection
}

// NewMongoRepository stores carts in "carts" and saved lists in
// "saved_items", one document per owner.
func NewMongoRepository(db *mongo.Database) CollectionRepository {
	return &mongoRepository{
		collections: map[domain.Kind]*mongo.Collection{
			domain.KindCart:  db.Collection("carts"),
			domain.KindSaved: db.Collection("saved_items"),
		},
	}
}

func (m *mongoRepository) collection(kind domain.Kind) (*mongo.Collection, error) {
	c, ok := m.collections[kind]
	if !ok {
		return nil, fmt.Errorf("unknown collection kind %q", kind)
	}
	return c, nil
}

func (m *mongoRepository) Get(ctx context.Context, kind domain.Kind, ownerID string) (*Document, error) {
	coll, err := m.collection(kind)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := coll.FindOne(ctx, bson.M{"owner_id": ownerID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCollectionNotFound
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	if doc.Items == nil {
		doc.Items = []domain.Item{}
	}
	return &doc, nil
}

func (m *mongoRepository) AddItem(ctx context.Context, kind domain.Kind, ownerID string, item domain.Item) (domain.Item, error) {
	coll, err := m.collection(kind)
	if err != nil {
		return domain.Item{}, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	filter := bson.M{"owner_id": ownerID}

	existing, err := m.Get(ctx, kind, ownerID)
	if errors.Is(err, ErrCollectionNotFound) {
		item.ID = uuid.NewString()
		item.AddedAt = now
		item.UpdatedAt = now
		doc := Document{
			OwnerID:   ownerID,
			Kind:      kind,
			Items:     []domain.Item{item},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return domain.Item{}, fmt.Errorf("failed to create collection with item: %w", err)
		}
		return item, nil
	}
	if err != nil {
		return domain.Item{}, err
	}

	for _, current := range existing.Items {
		if current.ProductID != item.ProductID {
			continue
		}

		var set bson.M
		if kind == domain.KindCart {
			qty, err := domain.MergeQuantity(current.Quantity, item.Quantity)
			if err != nil {
				return domain.Item{}, err
			}
			current.Quantity = qty
			set = bson.M{"items.$[elem].quantity": current.Quantity}
		} else {
			id := current.ID
			current = item
			current.ID = id
			current.AddedAt = now
			set = bson.M{
				"items.$[elem].name":       item.Name,
				"items.$[elem].price":      item.Price,
				"items.$[elem].image_path": item.ImagePath,
				"items.$[elem].category":   item.Category,
				"items.$[elem].added_at":   now,
			}
		}
		current.UpdatedAt = now
		set["items.$[elem].updated_at"] = now
		set["updated_at"] = now

		arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"elem.product_id": item.ProductID}},
		})
		if _, err := coll.UpdateOne(ctx, filter, bson.M{"$set": set}, arrayFilters); err != nil {
			return domain.Item{}, fmt.Errorf("failed to update existing item: %w", err)
		}
		return current, nil
	}

	item.ID = uuid.NewString()
	item.AddedAt = now
	item.UpdatedAt = now
	update := bson.M{
		"$push": bson.M{"items": item},
		"$set":  bson.M{"updated_at": now},
	}
	if _, err := coll.UpdateOne(ctx, filter, update); err != nil {
		return domain.Item{}, fmt.Errorf("failed to add new item: %w", err)
	}
	return item, nil
}

func (m *mongoRepository) UpdateItemQuantity(ctx context.Context, kind domain.Kind, ownerID, productID string, quantity int) (domain.Item, error) {
	coll, err := m.collection(kind)
	if err != nil {
		return domain.Item{}, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	filter := bson.M{
		"owner_id":         ownerID,
		"items.product_id": productID,
	}
	update := bson.M{
		"$set": bson.M{
			"items.$[elem].quantity":   quantity,
			"items.$[elem].updated_at": now,
			"updated_at":               now,
		},
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"elem.product_id": productID}},
	})

	result, err := coll.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return domain.Item{}, fmt.Errorf("failed to update item quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.Item{}, ErrItemNotFound
	}

	doc, err := m.Get(ctx, kind, ownerID)
	if err != nil {
		return domain.Item{}, err
	}
	item, ok := domain.Collection{Kind: kind, Items: doc.Items}.Find(productID)
	if !ok {
		return domain.Item{}, ErrItemNotFound
	}
	return item, nil
}

func (m *mongoRepository) RemoveItem(ctx context.Context, kind domain.Kind, ownerID, productID string) error {
	coll, err := m.collection(kind)
	if err != nil {
		return err
	}

	filter := bson.M{"owner_id": ownerID, "items.product_id": productID}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	result, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *mongoRepository) Delete(ctx context.Context, kind domain.Kind, ownerID string) error {
	coll, err := m.collection(kind)
	if err != nil {
		return err
	}

	result, err := coll.DeleteOne(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

// CreateIndexes makes owner_id unique per collection and expires collections
// untouched for 90 days.
func CreateIndexes(ctx context.Context, repo CollectionRepository) error {
	m, ok := repo.(*mongoRepository)
	if !ok {
		return nil
	}
	for kind, coll := range m.collections {
		indexes := []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "owner_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "updated_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(int32(collectionTTL.Seconds())),
			},
		}
		if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", kind, err)
		}
	}
	return nil
}
