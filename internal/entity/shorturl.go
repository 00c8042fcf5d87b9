// Package entity defines the entities and errors used in the application.
// It includes the ShortURL struct, which represents a shortened URL along with
// its accounting and lifecycle metadata, and the domain error taxonomy shared
// by every layer.
package entity

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrURLNotFound is returned when no active record matches the requested short code.
	ErrURLNotFound = errors.New("url not found")
	// ErrURLGone is returned when a record exists but its expiry has passed.
	ErrURLGone = errors.New("url has expired")
	// ErrAliasExists is returned when a creation races on the custom alias
	// uniqueness constraint and no matching active record exists.
	ErrAliasExists = errors.New("custom alias exists")
	// ErrCircuitOpen is returned by guarded external calls while the circuit
	// breaker is rejecting requests. It never surfaces to API clients.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ValidationError marks user-correctable input problems. Handlers map it to a
// 422 response; everything else that is not a known sentinel becomes a
// generic server error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// CreateShortURLParams carries validated input for a new short URL record.
type CreateShortURLParams struct {
	FullURL     string
	CustomAlias string
	ExpiresAt   *time.Time
	CreatedByIP string
	Metadata    map[string]string
}

// ShortURL represents a shortened URL.
//
// ID is assigned by the database and is strictly increasing; ShortCode is
// derived from it via Base-62 once the identifier is known, so it is present
// only after creation completes. FullURL is immutable after creation.
type ShortURL struct {
	ID             int64
	ShortCode      string
	FullURL        string
	CustomAlias    string
	Title          string
	ClickCount     int64
	LastAccessedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
	DeletedAt      *time.Time
	CreatedByIP    string
	Metadata       map[string]string
}

// Expired reports whether the record's expiry, if any, has passed.
func (u *ShortURL) Expired() bool {
	return u.ExpiresAt != nil && !u.ExpiresAt.After(time.Now())
}

// Active reports whether the record is resolvable via the public lookup path:
// not soft-deleted and not expired.
func (u *ShortURL) Active() bool {
	return u.DeletedAt == nil && !u.Expired()
}
