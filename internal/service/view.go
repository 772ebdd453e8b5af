package service

import "identityrecon/internal/models"

// buildView consolidates a group (primary first, then secondaries by id)
// into the response shape. Emails and phone numbers keep first-seen order.
func buildView(group []models.Contact) models.ContactResponse {
	view := models.ContactResponse{
		PrimaryContactID:    group[0].ID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}

	seenEmail := make(map[string]struct{}, len(group))
	seenPhone := make(map[string]struct{}, len(group))
	for i, c := range group {
		if e := c.EmailValue(); e != "" {
			if _, ok := seenEmail[e]; !ok {
				seenEmail[e] = struct{}{}
				view.Emails = append(view.Emails, e)
			}
		}
		if p := c.PhoneValue(); p != "" {
			if _, ok := seenPhone[p]; !ok {
				seenPhone[p] = struct{}{}
				view.PhoneNumbers = append(view.PhoneNumbers, p)
			}
		}
		if i > 0 {
			view.SecondaryContactIDs = append(view.SecondaryContactIDs, c.ID)
		}
	}
	return view
}
