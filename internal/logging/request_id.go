package logging

import "github.com/google/uuid"

// GenerateRequestID generates a unique request ID, a random (version 4)
// UUID in its canonical string form.
func GenerateRequestID() string {
	return uuid.NewString()
}

// NewInstanceID returns an ID for one run of a process, so log lines from
// before and after a restart of the same node can be told apart.
func NewInstanceID() string {
	return uuid.New().String()
}
