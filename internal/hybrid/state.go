package hybrid

import (
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// State is a point-in-time view of the service's sync state.
type State struct {
	Kind             domain.Kind
	Mode             domain.Mode
	SyncStatus       domain.SyncStatus
	OwnerID          string
	Online           bool
	Pending          int
	MigrationPending bool
	LastError        error
}

// ChangeType classifies a difference found by Validate.
type ChangeType int

const (
	ChangePrice ChangeType = iota
	ChangeUnavailable
	ChangeDiscontinued
)

func (c ChangeType) String() string {
	switch c {
	case ChangePrice:
		return "PRICE_CHANGED"
	case ChangeUnavailable:
		return "UNAVAILABLE"
	case ChangeDiscontinued:
		return "DISCONTINUED"
	default:
		return "UNKNOWN"
	}
}

// Change is one cart line whose snapshot no longer matches the catalog.
type Change struct {
	ProductID string
	Type      ChangeType
	OldPrice  int64
	NewPrice  int64
}

// String describes the change for a person, e.g. "price changed from 10.00 to 12.00".
func (c Change) String() string {
	switch c.Type {
	case ChangePrice:
		return fmt.Sprintf("price changed from %s to %s", domain.FormatAmount(c.OldPrice), domain.FormatAmount(c.NewPrice))
	case ChangeUnavailable:
		return "no longer available"
	case ChangeDiscontinued:
		return "no longer sold"
	default:
		return c.Type.String()
	}
}
