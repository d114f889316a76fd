package kb

import "errors"

var (
	// ErrValidation covers rejected input (empty filename, bad IDs).
	ErrValidation = errors.New("invalid input")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrUnsupportedType is returned for file extensions outside the
	// supported set.
	ErrUnsupportedType = errors.New("unsupported file type")
)
