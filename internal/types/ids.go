package types

import "github.com/google/uuid"

// NewRequestID generates a UUIDv7 request identifier.
// Panics only if the random source fails.
func NewRequestID() RequestID {
	return RequestID(uuid.Must(uuid.NewV7()).String())
}

// ParseRequestID accepts a client-supplied id if it is a well-formed UUID.
func ParseRequestID(s string) (RequestID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return RequestID(s), nil
}
