// Package storage defines persistence-layer contracts shared by the
// in-memory and Postgres PositionStore implementations.
package storage

import "errors"

// Storage errors returned by PositionStore persistence backends. The
// in-memory position.Store reports its own apperrors sentinels (such
// as apperrors.ErrNotFound) and only logs persister errors.
var (
	// ErrNotFound is returned when a requested position does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a position id that
	// already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)
