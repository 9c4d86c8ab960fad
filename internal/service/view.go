package service

import (
	"sort"

	"identityrecon/internal/models"
)

// buildView projects a reconciled cluster into the consolidated response.
// Exactly one member must be a primary without a link.
func buildView(cluster []*models.Contact) (*models.ContactResponse, error) {
	var primary *models.Contact
	for _, c := range cluster {
		if !c.IsCanonicalPrimary() {
			continue
		}
		if primary != nil {
			return nil, ErrInconsistentCluster
		}
		primary = c
	}
	if primary == nil {
		return nil, ErrInconsistentCluster
	}

	emails := make([]string, 0, len(cluster))
	phones := make([]string, 0, len(cluster))
	secondaries := make([]int64, 0, len(cluster))
	for _, c := range cluster {
		if c.Email != nil && *c.Email != "" {
			emails = append(emails, *c.Email)
		}
		if c.PhoneNumber != nil && *c.PhoneNumber != "" {
			phones = append(phones, *c.PhoneNumber)
		}
		if c.ID != primary.ID {
			secondaries = append(secondaries, c.ID)
		}
	}

	sort.Slice(secondaries, func(i, j int) bool { return secondaries[i] < secondaries[j] })

	return &models.ContactResponse{
		PrimaryContactID:    primary.ID,
		Emails:              sortedUnique(emails),
		PhoneNumbers:        sortedUnique(phones),
		SecondaryContactIDs: secondaries,
	}, nil
}

func sortedUnique(values []string) []string {
	sort.Strings(values)
	out := values[:0]
	for _, v := range values {
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}
