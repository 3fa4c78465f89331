package id

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are lexicographically sortable
// by creation time, which keeps published events ordered for consumers.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewSessionID returns a random (version 4) UUID read from crypto/rand.
// Session IDs must not be guessable, so unlike New it carries no timestamp.
func NewSessionID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
