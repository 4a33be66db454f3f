// Package idgen generates identifiers for stored entities.
package idgen

import "github.com/google/uuid"

// New returns a UUIDv7 identifier string. UUIDv7 sorts by creation time,
// which keeps lexical id order aligned with insertion order.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
