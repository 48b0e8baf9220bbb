package core

import "errors"

var (
	// ErrRowNotFound is returned when an import row id does not exist.
	ErrRowNotFound = errors.New("import row not found")

	// ErrImportNotFound is returned when an import id has no rows.
	ErrImportNotFound = errors.New("import not found")

	// ErrUnknownCommand is returned for queued payloads of an unregistered kind.
	ErrUnknownCommand = errors.New("unknown command kind")

	// ErrInvalidSetting is returned for unknown setting names or bad values.
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrNoQueue is returned when deferred work is requested without a queue.
	ErrNoQueue = errors.New("no work queue configured")
)
