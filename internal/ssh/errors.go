package ssh

import (
	"errors"

	apperr "devpulse/internal/error"
	"devpulse/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session id already registered")
	ErrShellActive     = errors.New("interactive shell already active")
	ErrShellNotFound   = errors.New("no interactive shell")
	ErrAuthRejected    = errors.New("authentication rejected")
	ErrHostKeyUnknown  = errors.New("host key not trusted")

	// Re-exported so callers of this package need not import models.
	ErrMissingCredential = models.ErrMissingCredential
	ErrUnsupportedMethod = models.ErrUnsupportedMethod
)

func sessionNotFound(id string) error {
	return apperr.Newf(apperr.SessionError, ErrSessionNotFound, "session %s", id)
}

// stageError tags an execution failure with the step that failed.
func stageError(stage string, err error) error {
	return apperr.Newf(apperr.ExecutionError, err, "command failed at %s", stage)
}
