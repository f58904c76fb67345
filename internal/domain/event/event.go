package event

import (
	"errors"
	"time"
)

type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartAt     time.Time `json:"startAt"`
	OrganizerID string    `json:"organizerId"`
	Capacity    int       `json:"capacity"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("event not found")

// IsPast reports whether the event has already started at now.
// An event starting exactly at now counts as past.
func (e Event) IsPast(now time.Time) bool {
	return !e.StartAt.After(now)
}

func (e Event) IsOrganizer(userID string) bool {
	return userID != "" && e.OrganizerID == userID
}
