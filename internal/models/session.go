package models

import "time"

// DefaultSessionTitle is given to new sessions until the first user message names them.
const DefaultSessionTitle = "Untitled"

// Session groups an ordered conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionPatch carries a partial update; nil fields are left untouched.
type SessionPatch struct {
	Title    *string `json:"title,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// ListFilter selects which sessions the chat list shows.
type ListFilter string

const (
	FilterActive   ListFilter = "active"
	FilterArchived ListFilter = "archived"
)

func (f ListFilter) Valid() bool {
	return f == FilterActive || f == FilterArchived
}

// Matches reports whether the session belongs to the filtered view.
func (f ListFilter) Matches(s Session) bool {
	if f == FilterArchived {
		return s.Archived
	}
	return !s.Archived
}
