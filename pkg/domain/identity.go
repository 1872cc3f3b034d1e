// Package domain provides the shared building blocks for all bounded
// contexts of the fleet scheduler: typed identities, the injected clock,
// and the domain event contracts.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Entity identity
// ---------------------------------------------------------------------------

// EntityID is a typed identifier. Tasks, runs, leases and artifacts use
// generated UUIDs; agent IDs are caller-supplied opaque strings.
type EntityID string

// NewID generates a random UUID identifier.
func NewID() EntityID {
	return EntityID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }

// ---------------------------------------------------------------------------
// Clock — injected time source
// ---------------------------------------------------------------------------

// Clock supplies the current time. Every component that makes time-dependent
// state transitions takes a Clock so tests can advance time deterministically.
type Clock func() time.Time

// SystemClock returns the real wall-clock time in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// FixedClock returns a Clock pinned to t. Test helper.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// ---------------------------------------------------------------------------
// Metadata value object
// ---------------------------------------------------------------------------

// Metadata is a generic key-value map for extensible properties.
type Metadata map[string]string

// Get returns a metadata value, or empty string if not present.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Set writes a metadata key-value pair. Initializes the map if nil.
func (m *Metadata) Set(key, value string) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}
