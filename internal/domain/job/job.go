package job

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindRegistrationConfirmed Kind = "registration.confirmed"
	KindRegistrationCancelled Kind = "registration.cancelled"
	KindEventReminder         Kind = "event.reminder"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindRegistrationConfirmed, KindRegistrationCancelled, KindEventReminder:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusDead       Status = "dead"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusDead:
		return true
	default:
		return false
	}
}

var ErrJobNotFound = errors.New("job not found")

const DefaultMaxAttempts = 8

// Job is a NotificationJob. It carries identifiers only; everything needed to
// render the message is loaded fresh when the job is delivered.
type Job struct {
	ID             string     `json:"id" validate:"required,uuid"`
	Kind           Kind       `json:"kind" validate:"required,oneof=registration.confirmed registration.cancelled event.reminder"`
	UserID         string     `json:"userId" validate:"required"`
	EventID        string     `json:"eventId" validate:"required"`
	RegistrationID string     `json:"registrationId,omitempty"`
	EnqueuedAt     time.Time  `json:"enqueuedAt"`
	Attempts       int        `json:"attempts" validate:"gte=0"`
	MaxAttempts    int        `json:"maxAttempts" validate:"gte=1"`
	RunAt          time.Time  `json:"runAt"`
	Status         Status     `json:"status"`
	LockedBy       *string    `json:"lockedBy,omitempty"`
	LeaseUntil     *time.Time `json:"leaseUntil,omitempty"`
	LastError      *string    `json:"lastError,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// jobNamespace scopes the v5 ids so they never collide with row ids.
var jobNamespace = uuid.MustParse("6f1d4c1e-7b0a-4f4e-9a57-3f3a4f0f2b11")

// DeterministicID derives the idempotency key of a job from its natural key.
// Enqueueing twice with the same natural key yields the same job id.
func DeterministicID(kind Kind, parts ...string) string {
	name := string(kind)
	for _, p := range parts {
		name += "|" + p
	}
	return uuid.NewSHA1(jobNamespace, []byte(name)).String()
}

func newJob(id string, kind Kind, userID, eventID, registrationID string, now time.Time) Job {
	now = now.UTC()
	return Job{
		ID:             id,
		Kind:           kind,
		UserID:         userID,
		EventID:        eventID,
		RegistrationID: registrationID,
		EnqueuedAt:     now,
		MaxAttempts:    DefaultMaxAttempts,
		RunAt:          now,
		Status:         StatusPending,
		UpdatedAt:      now,
	}
}

// ForRegistration builds the confirmed/cancelled job of one registration row.
// The row id is part of the key, so a re-registration (new row) gets a new job.
func ForRegistration(kind Kind, registrationID, userID, eventID string, now time.Time) Job {
	return newJob(DeterministicID(kind, registrationID), kind, userID, eventID, registrationID, now)
}

// ReminderWindow names one reminder pass for an event: the lead time plus the
// event start it was computed against. Moving the event opens a new window.
func ReminderWindow(lead time.Duration, startAt time.Time) string {
	return lead.String() + "@" + startAt.UTC().Format(time.RFC3339)
}

func ForReminder(eventID, userID, registrationID, window string, now time.Time) Job {
	return newJob(DeterministicID(KindEventReminder, eventID, userID, window), KindEventReminder, userID, eventID, registrationID, now)
}

// Exhausted reports whether no further attempt may be made.
func (j Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
