package registration

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Registration struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	EventID      string     `json:"eventId"`
	RegisteredAt time.Time  `json:"registeredAt"`
	Cancelled    bool       `json:"cancelled"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
}

var (
	// returned when an active row already exists for the (user, event) pair.
	ErrAlreadyRegistered = errors.New("registration already exists")
	ErrNotFound          = errors.New("registration not found")
	// the store could not take the event lock before its lock timeout.
	ErrLockTimeout = errors.New("event lock timeout")
)

// New builds a fresh active row. Re-registration always goes through here;
// cancelled rows are history and are never reactivated.
func New(userID, eventID string, now time.Time) Registration {
	return Registration{
		ID:           uuid.NewString(),
		UserID:       userID,
		EventID:      eventID,
		RegisteredAt: now.UTC(),
	}
}

// Cancel marks the row cancelled at now.
func (r *Registration) Cancel(now time.Time) error {
	if err := StateOf(r).Cancel(); err != nil {
		return err
	}
	at := now.UTC()
	r.Cancelled = true
	r.CancelledAt = &at
	return nil
}
