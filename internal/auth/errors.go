package auth

import "errors"

var (
	ErrNotFound             = errors.New("auth: not found")
	ErrInvalidInput         = errors.New("auth: invalid input")
	ErrConflict             = errors.New("auth: resource conflict")
	ErrForbidden            = errors.New("auth: forbidden")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrDirectoryUnavailable = errors.New("auth: directory unavailable")
)
