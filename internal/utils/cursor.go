package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobCursorVersion = 1

var ErrInvalidCursor = errors.New("invalid cursor")

// JobCursor is the keyset position of the dead-letter listing
// (updated_at DESC, id DESC). Cursors are opaque to clients.
type JobCursor struct {
	V         int       `json:"v"`
	UpdatedAt time.Time `json:"updatedAt"`
	ID        string    `json:"id"`
}

func EncodeJobCursor(updatedAt time.Time, id string) (string, error) {
	b, err := json.Marshal(JobCursor{V: jobCursorVersion, UpdatedAt: updatedAt.UTC(), ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeJobCursor returns ErrInvalidCursor (wrapped) for anything that was not
// produced by EncodeJobCursor.
func DecodeJobCursor(cursor string) (JobCursor, error) {
	if cursor == "" {
		return JobCursor{}, fmt.Errorf("%w: empty", ErrInvalidCursor)
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return JobCursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var c JobCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return JobCursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	switch {
	case c.V != jobCursorVersion:
		return JobCursor{}, fmt.Errorf("%w: version %d", ErrInvalidCursor, c.V)
	case c.ID == "", c.UpdatedAt.IsZero():
		return JobCursor{}, fmt.Errorf("%w: missing position", ErrInvalidCursor)
	case !IsUUID(c.ID):
		// job ids are uuids; stores compare against a uuid column
		return JobCursor{}, fmt.Errorf("%w: id", ErrInvalidCursor)
	}
	return c, nil
}

// IsUUID reports whether s parses as a UUID in any of the accepted forms.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
