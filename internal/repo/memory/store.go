package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/rsvphub/internal/domain/event"
	"github.com/geocoder89/rsvphub/internal/domain/registration"
	"github.com/geocoder89/rsvphub/internal/domain/user"
	"github.com/geocoder89/rsvphub/internal/ledger"
)

// Store is an in-process stand-in for the postgres store, used by tests and
// `STORE=memory` dev runs. Event locks are channels so a waiter can give up
// on ctx or LockTimeout the same way a postgres lock_timeout would.
type Store struct {
	mu     sync.RWMutex
	events map[string]event.Event
	users  map[string]user.User
	regs   []registration.Registration

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	LockTimeout time.Duration
}

func NewStore() *Store {
	return &Store{
		events:      make(map[string]event.Event),
		users:       make(map[string]user.User),
		locks:       make(map[string]chan struct{}),
		LockTimeout: 2 * time.Second,
	}
}

func (s *Store) PutEvent(e event.Event) {
	s.mu.Lock()
	s.events[e.ID] = e
	s.mu.Unlock()
}

func (s *Store) PutUser(u user.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

// DeleteEvent cascades to the event's registrations.
func (s *Store) DeleteEvent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, id)
	kept := s.regs[:0]
	for _, r := range s.regs {
		if r.EventID != id {
			kept = append(kept, r)
		}
	}
	s.regs = kept
}

func (s *Store) eventLock(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

// HoldEventLock takes the event lock outside of any tx and returns its release
// func. Tests use it to simulate a long-running competing transaction.
func (s *Store) HoldEventLock(id string) func() {
	l := s.eventLock(id)
	l <- struct{}{}
	return func() { <-l }
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx registration.Tx) error) error {
	tx := &memTx{s: s}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

// Registrations returns a copy of every row (active and cancelled) for the pair.
func (s *Store) Registrations(userID, eventID string) []registration.Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []registration.Registration
	for _, r := range s.regs {
		if r.UserID == userID && r.EventID == eventID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) activeCountLocked(eventID string) int {
	n := 0
	for _, r := range s.regs {
		if r.EventID == eventID && !r.Cancelled {
			n++
		}
	}
	return n
}

func (s *Store) Ledger(_ context.Context, eventID string) (ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[eventID]
	if !ok {
		return ledger.Snapshot{}, event.ErrNotFound
	}
	return ledger.Snapshot{EventID: eventID, Capacity: e.Capacity, Active: s.activeCountLocked(eventID)}, nil
}

func (s *Store) ListActiveByEvent(_ context.Context, eventID string) ([]registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.events[eventID]; !ok {
		return nil, event.ErrNotFound
	}

	out := make([]registration.Registration, 0)
	for _, r := range s.regs {
		if r.EventID == eventID && !r.Cancelled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) FindActive(_ context.Context, userID, eventID string) (registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.regs {
		if r.UserID == userID && r.EventID == eventID && !r.Cancelled {
			return r, nil
		}
	}
	return registration.Registration{}, registration.ErrNotFound
}

func (s *Store) GetEvent(_ context.Context, id string) (event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	return e, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

// ActiveStartingBetween lists active events with from <= start_at < to.
func (s *Store) ActiveStartingBetween(_ context.Context, from, to time.Time) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]event.Event, 0)
	for _, e := range s.events {
		if e.Active && !e.StartAt.Before(from) && e.StartAt.Before(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartAt.Before(out[j].StartAt)
	})
	return out, nil
}

type cancelWrite struct {
	id string
	at time.Time
}

// memTx stages writes until commit; reads see committed rows plus its own
// staged inserts. Correctness relies on the caller holding the event lock.
type memTx struct {
	s       *Store
	held    []chan struct{}
	inserts []registration.Registration
	cancels []cancelWrite
}

func (tx *memTx) LockEvent(ctx context.Context, eventID string) (event.Event, error) {
	l := tx.s.eventLock(eventID)

	timer := time.NewTimer(tx.s.LockTimeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		tx.held = append(tx.held, l)
	case <-timer.C:
		return event.Event{}, registration.ErrLockTimeout
	case <-ctx.Done():
		return event.Event{}, registration.ErrLockTimeout
	}

	tx.s.mu.RLock()
	e, ok := tx.s.events[eventID]
	tx.s.mu.RUnlock()

	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	return e, nil
}

func (tx *memTx) FindActive(_ context.Context, userID, eventID string) (registration.Registration, error) {
	for _, r := range tx.inserts {
		if r.UserID == userID && r.EventID == eventID && !r.Cancelled {
			return r, nil
		}
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	for _, r := range tx.s.regs {
		if r.UserID == userID && r.EventID == eventID && !r.Cancelled && !tx.cancelled(r.ID) {
			return r, nil
		}
	}
	return registration.Registration{}, registration.ErrNotFound
}

func (tx *memTx) cancelled(id string) bool {
	for _, c := range tx.cancels {
		if c.id == id {
			return true
		}
	}
	return false
}

func (tx *memTx) ActiveCount(_ context.Context, eventID string) (int, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	n := 0
	for _, r := range tx.s.regs {
		if r.EventID == eventID && !r.Cancelled && !tx.cancelled(r.ID) {
			n++
		}
	}
	for _, r := range tx.inserts {
		if r.EventID == eventID && !r.Cancelled {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) Insert(ctx context.Context, r registration.Registration) error {
	if _, err := tx.FindActive(ctx, r.UserID, r.EventID); err == nil {
		return registration.ErrAlreadyRegistered
	}
	tx.inserts = append(tx.inserts, r)
	return nil
}

func (tx *memTx) MarkCancelled(_ context.Context, id string, at time.Time) error {
	for i := range tx.inserts {
		if tx.inserts[i].ID == id {
			return tx.inserts[i].Cancel(at)
		}
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()

	for _, r := range tx.s.regs {
		if r.ID == id && !r.Cancelled {
			tx.cancels = append(tx.cancels, cancelWrite{id: id, at: at})
			return nil
		}
	}
	return registration.ErrNotFound
}

func (tx *memTx) commit() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	for _, c := range tx.cancels {
		for i := range tx.s.regs {
			if tx.s.regs[i].ID == c.id {
				_ = tx.s.regs[i].Cancel(c.at)
			}
		}
	}
	tx.s.regs = append(tx.s.regs, tx.inserts...)
}

func (tx *memTx) release() {
	for _, l := range tx.held {
		<-l
	}
	tx.held = nil
}
