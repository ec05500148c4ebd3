package hybrid

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
)

// Validate compares the guest cart's snapshots with the catalog and reports
// lines whose price changed or that can no longer be bought. The cart itself
// is left untouched.
func (s *Service) Validate(ctx context.Context) ([]Change, error) {
	ctx, span := s.startSpan(ctx, "Validate")
	defer span.End()

	if s.kind != domain.KindCart {
		return nil, domain.ErrUnsupported
	}
	if !s.session().guest() {
		return nil, domain.ErrGuestOnly
	}
	if s.cfg.Catalog == nil {
		return nil, domain.ErrUnsupported
	}

	var changes []Change
	for _, item := range s.guest.Get(ctx).Items {
		p, err := s.cfg.Catalog.Product(ctx, item.ProductID)
		if errors.Is(err, catalog.ErrProductNotFound) {
			changes = append(changes, Change{ProductID: item.ProductID, Type: ChangeDiscontinued, OldPrice: item.Price})
			continue
		}
		if err != nil {
			recordError(span, err)
			return nil, err
		}

		if !p.Available {
			changes = append(changes, Change{ProductID: item.ProductID, Type: ChangeUnavailable, OldPrice: item.Price, NewPrice: p.Price})
			continue
		}
		if p.Price != item.Price {
			changes = append(changes, Change{ProductID: item.ProductID, Type: ChangePrice, OldPrice: item.Price, NewPrice: p.Price})
		}
	}
	return changes, nil
}
