package user

import (
	"errors"
	"time"
)

// User is the read-only view of an account owned by the identity service.
// Only what a notification needs to reach the person is kept here.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

var ErrNotFound = errors.New("user not found")

// DisplayName falls back to the email when no name is on file.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
