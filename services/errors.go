package services

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
)

// ErrInvalidLink covers malformed, unknown, used and expired login links alike
var ErrInvalidLink = errors.New("invalid or expired login link")
