package common

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a lexically sortable id, used for request ids.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewSessionID mints a session id for clients that arrive without one.
// Widgets normally generate their own UUID client-side; this matches that.
func NewSessionID() string {
	return uuid.NewString()
}
