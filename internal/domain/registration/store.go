package registration

import (
	"context"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/ledger"
)

// Tx is the set of reads and writes the coordinator performs while it holds
// the event lock. Implementations must make LockEvent block other Tx values
// targeting the same event until commit or rollback.
type Tx interface {
	// LockEvent returns event.ErrNotFound or ErrLockTimeout.
	LockEvent(ctx context.Context, eventID string) (event.Event, error)
	// FindActive returns ErrNotFound when the pair has no active row.
	FindActive(ctx context.Context, userID, eventID string) (Registration, error)
	ActiveCount(ctx context.Context, eventID string) (int, error)
	Insert(ctx context.Context, r Registration) error
	MarkCancelled(ctx context.Context, id string, at time.Time) error
}

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader serves the read paths that never mutate registration state.
type Reader interface {
	Ledger(ctx context.Context, eventID string) (ledger.Snapshot, error)
	ListActiveByEvent(ctx context.Context, eventID string) ([]Registration, error)
	// FindActive returns the pair's current active row, or ErrNotFound.
	FindActive(ctx context.Context, userID, eventID string) (Registration, error)
}
