// Package postgres is the durable store: events, registrations, the capacity
// ledger, delivery records and the jobs queue.
package postgres

import (
	"errors"

	"github.com/geocoder89/rsvphub/internal/observability"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation    = "23505"
	codeInvalidText        = "22P02"
	codeLockNotAvailable   = "55P03"
	activeRegistrationUniq = "registrations_active_user_event_uniq"
)

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func IsUniqueViolation(err error) bool {
	code, _ := pgCode(err)
	return code == codeUniqueViolation
}

// isLockTimeout reports a lock_timeout expiry while waiting on a row lock.
func isLockTimeout(err error) bool {
	code, _ := pgCode(err)
	return code == codeLockNotAvailable
}

// isInvalidID reports a malformed uuid literal, which can never match a row.
func isInvalidID(err error) bool {
	code, _ := pgCode(err)
	return code == codeInvalidText
}

type observer struct {
	prom *observability.Prom
}

func (o observer) observe(op string, fn func() error) error {
	if o.prom != nil {
		return o.prom.ObserveDB(op, fn)
	}
	return fn()
}
