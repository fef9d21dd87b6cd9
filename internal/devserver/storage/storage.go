// Package storage defines how the development login server keeps sessions.
package storage

import (
	"context"
	"time"
)

// Session is a login session issued by the server. ID is the token handed to
// the client.
type Session struct {
	ID        string
	UserID    string
	Username  string
	CreatedAt time.Time
	Expires   time.Time
}

// Storage is an interface used by the server to maintain sessions.
type Storage interface {
	// Get returns the session with the given ID. If it doesn't exist or has
	// expired, an IsNotFoundErr will be returned.
	Get(ctx context.Context, id string) (*Session, error)
	// Put stores the session, replacing any existing one with the same ID.
	Put(ctx context.Context, s *Session) error
	// Delete removes the session. If it doesn't exist, an IsNotFoundErr will
	// be returned.
	Delete(ctx context.Context, id string) error
	// GarbageCollect removes sessions that expired before now, returning how
	// many were removed.
	GarbageCollect(ctx context.Context, now time.Time) (int, error)
}

type errNotFound interface {
	NotFoundErr()
}

// IsNotFoundErr checks to see if the passed error is because the item was not
// found, as opposed to an actual error state. Errors comply to this if they
// have an `NotFoundErr()` method.
func IsNotFoundErr(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// NotFoundError is returned by implementations for missing or expired
// sessions.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "session " + e.ID + " not found"
}

func (*NotFoundError) NotFoundErr() {}
