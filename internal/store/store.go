// Package store holds the durable record of rooms and scores. The live room
// state is owned in memory by the arena core; the store is consulted for
// recovery and for interfaces outside the live connection (REST, history).
package store

import "errors"

var (
	// ErrNotFound is returned when the requested room does not exist.
	ErrNotFound = errors.New("not found in room store")

	// ErrDuplicate is returned when a submission already exists for the
	// (room, user) pair. The core's per-room lock is the primary guard; the
	// store enforces the same invariant as a backstop.
	ErrDuplicate = errors.New("submission already exists")
)
