package uuid

import (
	google_uuid "github.com/google/uuid"
)

// MustUUID returns a random UUID string. It panics
// if the system's source of randomness fails.
func MustUUID() string {
	return google_uuid.New().String()
}

// Prefixed returns a random UUID string prefixed
// with prefix and a dash. It is used to build
// transaction identifiers that name their origin.
func Prefixed(prefix string) string {
	if prefix == "" {
		return MustUUID()
	}

	return prefix + "-" + MustUUID()
}
