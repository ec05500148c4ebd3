package domain

import "time"

// Item is a line in the cart or in the saved-for-later list. Name, Price,
// ImagePath and Category are a snapshot taken when the item was added.
type Item struct {
	ID        string    `json:"id" bson:"id"`
	ProductID string    `json:"productId" bson:"product_id" validate:"required,max=128"`
	Name      string    `json:"name,omitempty" bson:"name"`
	Price     int64     `json:"price" bson:"price" validate:"gte=0"` // minor units
	ImagePath string    `json:"imagePath,omitempty" bson:"image_path"`
	Category  string    `json:"category,omitempty" bson:"category"`
	Quantity  int       `json:"quantity,omitempty" bson:"quantity" validate:"gte=0,lte=999"`
	AddedAt   time.Time `json:"addedAt" bson:"added_at"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
}

// Subtotal is price times quantity for cart lines and the plain price for
// saved items.
func (i Item) Subtotal(kind Kind) int64 {
	if kind == KindCart {
		return i.Price * int64(i.Quantity)
	}
	return i.Price
}
