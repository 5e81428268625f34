package id

import "github.com/google/uuid"

// New returns a random identifier for sessions and jobs.
func New() string {
	return uuid.NewString()
}
