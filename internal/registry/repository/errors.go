package repository

import "errors"

var (
	// ErrNotFound is returned when a session, output or project does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStatusLocked is returned when a status update targets a session that
	// has already been marked invalid. Invalid is never overwritten.
	ErrStatusLocked = errors.New("session status is locked (invalid)")

	// ErrProjectExists is returned when an owner registers a project key twice.
	ErrProjectExists = errors.New("project already exists")
)

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"
