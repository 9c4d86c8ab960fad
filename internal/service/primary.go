package service

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"identityrecon/internal/events"
	"identityrecon/internal/logger"
	"identityrecon/internal/models"
	"identityrecon/internal/storage"
)

// selectPrimary returns the cluster's true primary and every member currently marked
// primary, oldest first. More than one marked primary means the cluster must be reconciled.
// A cluster with no primary at all is repaired by promoting its oldest member, and members
// still pointing at a vanished primary are re-linked to the survivor either way.
func (s *ReconciliationService) selectPrimary(ctx context.Context, tx storage.ContactStore, res *resolution, cluster []*models.Contact) (*models.Contact, []*models.Contact, error) {
	ctx, span := s.tracer.Start(ctx, "service.selectPrimary")
	defer span.End()

	primaries := primariesOf(cluster)
	if len(primaries) > 0 {
		if stale := staleLinks(cluster, primaries); len(stale) > 0 {
			if err := s.repairLinks(ctx, tx, res, primaries[0], false, stale, len(cluster)); err != nil {
				return nil, nil, err
			}
		}
		return primaries[0], primaries, nil
	}
	if len(cluster) == 0 {
		return nil, nil, ErrInconsistentCluster
	}

	candidate := oldest(cluster)
	if err := tx.UpdateToPrimary(ctx, candidate.ID); err != nil {
		return nil, nil, storeErr("update to primary", err)
	}
	promoted := candidate.Clone()
	promoted.LinkPrecedence = models.PrecedencePrimary
	promoted.LinkedID = nil

	if err := s.repairLinks(ctx, tx, res, promoted, true, staleLinks(cluster, []*models.Contact{promoted}), len(cluster)); err != nil {
		return nil, nil, err
	}
	return promoted, []*models.Contact{promoted}, nil
}

// primariesOf returns the primary-marked members ordered by created_at, then id.
func primariesOf(cluster []*models.Contact) []*models.Contact {
	var primaries []*models.Contact
	for _, c := range cluster {
		if c.IsPrimary() {
			primaries = append(primaries, c)
		}
	}
	sort.SliceStable(primaries, func(i, j int) bool { return models.OlderThan(primaries[i], primaries[j]) })
	return primaries
}

func oldest(cluster []*models.Contact) *models.Contact {
	var out *models.Contact
	for _, c := range cluster {
		if out == nil || models.OlderThan(c, out) {
			out = c
		}
	}
	return out
}

// staleLinks returns the sorted distinct link targets in cluster that are not one of the
// given live primaries: deleted primaries, or secondaries left mid-chain.
func staleLinks(cluster, primaries []*models.Contact) []int64 {
	seen := make(map[int64]struct{}, len(primaries))
	for _, p := range primaries {
		seen[p.ID] = struct{}{}
	}

	var stale []int64
	for _, c := range cluster {
		if c.LinkedID == nil {
			continue
		}
		if _, ok := seen[*c.LinkedID]; ok {
			continue
		}
		seen[*c.LinkedID] = struct{}{}
		stale = append(stale, *c.LinkedID)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	return stale
}

// repairLinks points every contact that referenced a stale id at primary and audits the repair.
func (s *ReconciliationService) repairLinks(ctx context.Context, tx storage.ContactStore, res *resolution, primary *models.Contact, promoted bool, stale []int64, clusterSize int) error {
	for _, old := range stale {
		if err := tx.UpdateLinkedContacts(ctx, old, primary.ID); err != nil {
			return storeErr("update linked contacts", err)
		}
	}

	res.repairs++
	res.events = append(res.events, events.New(events.TypeClusterRepaired, map[string]any{
		"primary_id":        primary.ID,
		"promoted":          promoted,
		"stale_primary_ids": stale,
	}))
	logger.Audit(s.log, logrus.WarnLevel, events.TypeClusterRepaired, logrus.Fields{
		"primary_id":        primary.ID,
		"promoted":          promoted,
		"stale_primary_ids": stale,
		"cluster_size":      clusterSize,
	})
	return nil
}

// needsNewContact reports whether the request carries an email or phone the cluster
// does not already know.
func needsNewContact(cluster []*models.Contact, email, phone *string) bool {
	emails := make(map[string]struct{}, len(cluster))
	phones := make(map[string]struct{}, len(cluster))
	for _, c := range cluster {
		if c.Email != nil {
			emails[*c.Email] = struct{}{}
		}
		if c.PhoneNumber != nil {
			phones[*c.PhoneNumber] = struct{}{}
		}
	}

	if email != nil {
		if _, ok := emails[*email]; !ok {
			return true
		}
	}
	if phone != nil {
		if _, ok := phones[*phone]; !ok {
			return true
		}
	}
	return false
}
