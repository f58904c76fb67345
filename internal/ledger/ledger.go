// Package ledger is the capacity read path. Occupancy is never stored as a
// counter; it is the number of active registration rows, counted in the same
// transaction that mutates them.
package ledger

// ActiveCountSQL is shared by the capacity check and the public spots query.
const ActiveCountSQL = `SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND NOT is_cancelled`

// SnapshotSQL reads capacity and occupancy for one event in one round trip.
const SnapshotSQL = `
	SELECT e.capacity,
	       (SELECT COUNT(*) FROM registrations r WHERE r.event_id = e.id AND NOT r.is_cancelled)
	FROM events e
	WHERE e.id = $1`

type Snapshot struct {
	EventID  string `json:"eventId"`
	Capacity int    `json:"capacity"`
	Active   int    `json:"active"`
}

// Available never goes negative, even if capacity was lowered below occupancy.
func (s Snapshot) Available() int {
	if n := s.Capacity - s.Active; n > 0 {
		return n
	}
	return 0
}

func (s Snapshot) HasSpot() bool {
	return s.Active < s.Capacity
}
