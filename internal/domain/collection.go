package domain

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindCart  Kind = "cart"
	KindSaved Kind = "saved-items"
)

func (k Kind) Valid() bool {
	return k == KindCart || k == KindSaved
}

func (k Kind) String() string {
	return string(k)
}

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCart, "carts":
		return KindCart, nil
	case KindSaved, "saved":
		return KindSaved, nil
	}
	return "", fmt.Errorf("unknown collection kind %q", s)
}

// Collection is the full contents of a cart or saved list for one owner.
// Version grows by one on every persisted write.
type Collection struct {
	Kind         Kind      `json:"kind"`
	Items        []Item    `json:"items"`
	LastModified time.Time `json:"lastModified"`
	Version      int64     `json:"version"`
}

func NewCollection(kind Kind) Collection {
	return Collection{Kind: kind, Items: []Item{}}
}

// Count is the sum of quantities for a cart and the number of lines for a
// saved list.
func (c Collection) Count() int {
	if c.Kind != KindCart {
		return len(c.Items)
	}
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

func (c Collection) Total() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Subtotal(c.Kind)
	}
	return total
}

func (c Collection) Find(productID string) (Item, bool) {
	if i := c.IndexOf(productID); i >= 0 {
		return c.Items[i], true
	}
	return Item{}, false
}

func (c Collection) IndexOf(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a copy that does not share the items slice.
func (c Collection) Clone() Collection {
	out := c
	out.Items = make([]Item, len(c.Items))
	copy(out.Items, c.Items)
	return out
}
