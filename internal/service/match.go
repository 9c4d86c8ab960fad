package service

import (
	"context"
	"sort"
	"strings"

	"identityrecon/internal/models"
	"identityrecon/internal/storage"
)

// normalizeRequest treats blank values as absent and checks the email shape.
// Non-blank values are kept verbatim: matching is exact.
func normalizeRequest(req models.IdentifyRequest) (email, phone *string, err error) {
	if req.Email != nil && strings.TrimSpace(*req.Email) != "" {
		email = req.Email
	}
	if req.PhoneNumber != nil && strings.TrimSpace(*req.PhoneNumber) != "" {
		phone = req.PhoneNumber
	}
	if email == nil && phone == nil {
		return nil, nil, invalid("either email or phoneNumber must be provided")
	}
	if email != nil && !validEmailShape(*email) {
		return nil, nil, invalid("email is malformed")
	}
	return email, phone, nil
}

// validEmailShape accepts local@domain with exactly one @, no whitespace and a dotted or
// bare domain. Deliverability is not checked.
func validEmailShape(email string) bool {
	if strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') {
		return false
	}
	domain := email[at+1:]
	return domain != "" && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// findMatches returns live contacts whose email or phone equals the request's.
func (s *ReconciliationService) findMatches(ctx context.Context, tx storage.ContactStore, email, phone *string) ([]*models.Contact, error) {
	ctx, span := s.tracer.Start(ctx, "service.findMatches")
	defer span.End()

	matches, err := tx.FindByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return nil, storeErr("find by email or phone", err)
	}
	return matches, nil
}

// expandCluster loads every cluster touched by the matches. The seed holds each match's
// id and, for secondaries, the primary it links to; one FindLinkedContacts hop then
// covers primary plus all secondaries because links never chain.
func (s *ReconciliationService) expandCluster(ctx context.Context, tx storage.ContactStore, matches []*models.Contact) ([]*models.Contact, error) {
	ctx, span := s.tracer.Start(ctx, "service.expandCluster")
	defer span.End()

	cluster, err := tx.FindLinkedContacts(ctx, seedIDs(matches))
	if err != nil {
		return nil, storeErr("find linked contacts", err)
	}
	return cluster, nil
}

func seedIDs(matches []*models.Contact) []int64 {
	seen := make(map[int64]struct{}, 2*len(matches))
	ids := make([]int64, 0, 2*len(matches))
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, m := range matches {
		add(m.ID)
		if m.LinkedID != nil {
			add(*m.LinkedID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
