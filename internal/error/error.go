// internal/error/error.go

package error

import (
	"errors"
	"fmt"
)

type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

type ErrorType int

const (
	ConfigError ErrorType = iota
	ConnectionError
	ProtocolError
	AuthError
	SessionError
	ExecutionError
	IOError
	ValidationError
	FileError
	CryptoError
)

var typeNames = map[ErrorType]string{
	ConfigError:     "config",
	ConnectionError: "connection",
	ProtocolError:   "protocol",
	AuthError:       "auth",
	SessionError:    "session",
	ExecutionError:  "execution",
	IOError:         "io",
	ValidationError: "validation",
	FileError:       "file",
	CryptoError:     "crypto",
}

func (t ErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ErrorType(%d)", int(t))
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(errType ErrorType, message string, err error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, err error, format string, args ...any) *AppError {
	return New(errType, fmt.Sprintf(format, args...), err)
}

// TypeOf reports the type of the first AppError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return 0, false
}

// Is reports whether err carries an AppError of the given type.
func Is(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}
