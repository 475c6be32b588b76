package chat

import "chattranslator/internal/models"

// Project returns the sessions visible under filter, keeping their order.
func Project(sessions []models.Session, filter models.ListFilter) []models.Session {
	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		if filter.Matches(s) {
			out = append(out, s)
		}
	}
	return out
}
