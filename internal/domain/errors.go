package domain

import "errors"

var (
	// ErrNotFound is returned when a profile or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a profile that exists.
	ErrAlreadyExists = errors.New("already exists")
)
