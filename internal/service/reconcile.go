package service

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"identityrecon/internal/events"
	"identityrecon/internal/models"
	"identityrecon/internal/storage"
)

// reconcilePrecedence merges clusters bridged by one request. primaries is ordered oldest
// first and primaries[0] survives. Each younger primary becomes a secondary of the survivor
// and everything that linked to it is re-pointed across the whole store, so no member is
// left two hops from its primary.
func (s *ReconciliationService) reconcilePrecedence(ctx context.Context, tx storage.ContactStore, res *resolution, primaries []*models.Contact) error {
	ctx, span := s.tracer.Start(ctx, "service.reconcilePrecedence",
		trace.WithAttributes(attribute.Int("primaries", len(primaries))))
	defer span.End()

	survivor := primaries[0]
	demoted := make([]int64, 0, len(primaries)-1)

	for _, former := range primaries[1:] {
		if err := tx.UpdateToSecondary(ctx, former.ID, survivor.ID); err != nil {
			return storeErr("update to secondary", err)
		}
		if err := tx.UpdateLinkedContacts(ctx, former.ID, survivor.ID); err != nil {
			return storeErr("update linked contacts", err)
		}
		demoted = append(demoted, former.ID)
		res.events = append(res.events, events.New(events.TypeContactMerged, map[string]any{
			"primary_id": survivor.ID,
			"demoted_id": former.ID,
		}))
	}

	res.merges += len(demoted)
	s.log.WithFields(logrus.Fields{
		"primary_id":  survivor.ID,
		"demoted_ids": demoted,
	}).Info("Merged clusters")
	return nil
}
