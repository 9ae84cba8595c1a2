package engine

import (
	"errors"
)

var (
	ErrWrongPassword      = errors.New("wrong password")
	ErrNotInitialized     = errors.New("master password not set")
	ErrAlreadyInitialized = errors.New("master password already set")
	ErrDeserializeFailed  = errors.New("failed to parse import data")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUnavailable        = errors.New("network access unavailable")
)

// Kind names the error class reported to clients in the RPC error data.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrWrongPassword):
		return "WrongPassword"
	case errors.Is(err, ErrNotInitialized):
		return "NotInitialized"
	case errors.Is(err, ErrAlreadyInitialized):
		return "AlreadyInitialized"
	case errors.Is(err, ErrDeserializeFailed):
		return "DeserializeFailed"
	case errors.Is(err, ErrInvalidArgument):
		return "InvalidArgument"
	case errors.Is(err, ErrUnavailable):
		return "Unavailable"
	default:
		return "InternalError"
	}
}
