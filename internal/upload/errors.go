package upload

import "errors"

var (
	ErrBusy           = errors.New("an upload is already in progress")
	ErrInvalidFile    = errors.New("invalid upload file")
	ErrGrantDenied    = errors.New("failed to get upload url")
	ErrTransferFailed = errors.New("upload failed")
)

// Phase names the step of the two-phase upload that failed.
type Phase string

const (
	PhaseGrant    Phase = "grant"
	PhaseTransfer Phase = "transfer"
)

// Error carries the failing phase so callers can tell a rejected grant
// from a failed byte transfer.
type Error struct {
	Phase    Phase
	Filename string
	Err      error
}

func (e *Error) Error() string {
	return e.sentinel().Error() + ": " + e.Filename + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrGrantDenied or ErrTransferFailed by phase.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	if e.Phase == PhaseGrant {
		return ErrGrantDenied
	}
	return ErrTransferFailed
}
