package config

import (
	"errors"
	"fmt"
)

// ErrConfig is matched by every configuration error.
var ErrConfig = errors.New("invalid configuration")

// Error reports a missing or malformed key.
type Error struct {
	Key string
	Msg string
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if e.Key == "" {
		return "config: " + msg
	}

	return fmt.Sprintf("config: %s: %s", e.Key, msg)
}

// Is makes errors.Is(err, ErrConfig) true.
func (e *Error) Is(target error) bool {
	return target == ErrConfig
}

func (e *Error) Unwrap() error {
	return e.Err
}

func errorf(key, format string, args ...any) *Error {
	return &Error{Key: key, Msg: fmt.Sprintf(format, args...)}
}
