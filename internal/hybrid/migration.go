package hybrid

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// MigrationError lists the guest items that could not be copied to the
// server. They stay in guest storage and are retried later.
type MigrationError struct {
	Failed []string
	Cause  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("failed to migrate %d guest item(s): %v", len(e.Failed), e.Cause)
}

func (e *MigrationError) Unwrap() error {
	return e.Cause
}

// migrate copies every guest item to owner's server collection. Each item is
// removed from guest storage as soon as the server accepted it, so a retry
// only resends what is left. Failures are collected and the rest continues,
// except for ErrUnauthorized which aborts.
func (s *Service) migrate(ctx context.Context, owner string) error {
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	guest := s.guest.Get(ctx)
	if len(guest.Items) == 0 {
		return nil
	}

	ctx, span := s.startSpan(ctx, "Migrate", attribute.Int("items", len(guest.Items)))
	defer span.End()

	log := s.log.WithFields(logrus.Fields{"owner": owner, "items": len(guest.Items)})
	log.Info("migrating guest collection")

	var (
		failed   []string
		firstErr error
		migrated int
	)
	for _, item := range guest.Items {
		if _, err := s.remote.AddItem(ctx, s.kind, owner, item); err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				recordError(span, err)
				return err
			}
			log.WithError(err).WithField("product_id", item.ProductID).Warn("failed to migrate item")
			failed = append(failed, item.ProductID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.guest.Remove(ctx, item.ProductID)
		migrated++
	}

	span.SetAttributes(attribute.Int("migrated", migrated), attribute.Int("failed", len(failed)))
	if len(failed) > 0 {
		err := &MigrationError{Failed: failed, Cause: firstErr}
		recordError(span, err)
		return err
	}
	log.Info("guest collection migrated")
	return nil
}
