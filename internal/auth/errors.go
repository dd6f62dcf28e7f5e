package auth

import "errors"

var (
	// ErrNotAuthenticated is returned when an action requires a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNotAuthorized is returned when a valid identity lacks permission.
	ErrNotAuthorized = errors.New("not authorized")
)
