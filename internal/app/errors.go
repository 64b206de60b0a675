package app

import "errors"

var (
	// ErrInvalidPassword is returned when a supplied password does not match
	// the stored hash. Distinct from ErrUnknownEmail so handlers can keep the
	// 401/404 split the frontend relies on.
	ErrInvalidPassword = errors.New("incorrect password")

	// ErrUnknownEmail is returned when no account exists for an email.
	ErrUnknownEmail = errors.New("unknown email")

	ErrEmailAlreadyExists = errors.New("email already exists")

	ErrUserNotFound = errors.New("user not found")
	ErrBookNotFound = errors.New("book not found")
	ErrNoteNotFound = errors.New("note not found")
	ErrFileNotFound = errors.New("file not found")

	// ErrNotAdmin is returned when an operation requires the admin role.
	ErrNotAdmin = errors.New("admin role required")
)
