package ops

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBundleID       = errors.New("ops: invalid bundle identifier")
	ErrDeviceNotFound        = errors.New("ops: device not found")
	ErrServiceUnavailable    = errors.New("ops: service unavailable")
	ErrLookupFailed          = errors.New("ops: lookup failed")
	ErrNotInstalled          = errors.New("ops: application not installed")
	ErrDirectoryEnsureFailed = errors.New("ops: directory ensure failed")
	ErrVerifyAfterCreate     = errors.New("ops: directory not present after create")
	ErrFileOpenFailed        = errors.New("ops: file open failed")
	ErrFileWriteFailed       = errors.New("ops: file write failed")
	ErrFileReadFailed        = errors.New("ops: file read failed")
	ErrPackageMismatch       = errors.New("ops: staged package differs from source")
	ErrControlCommandFailed  = errors.New("ops: control command failed")
	ErrInstallFailed         = errors.New("ops: install failed")
)

// CommandError reports which JIT stage failed and the underlying cause.
type CommandError struct {
	Stage Stage
	Reply string
	Err   error
}

func (e *CommandError) Error() string {
	if e.Reply != "" {
		return fmt.Sprintf("%s (%s): reply=%q: %v", ErrControlCommandFailed, e.Stage, e.Reply, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", ErrControlCommandFailed, e.Stage, e.Err)
}

func (e *CommandError) Unwrap() []error {
	return []error{ErrControlCommandFailed, e.Err}
}

// Status is the host-facing result of an operation. Zero is success.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusInvalidArgument
	StatusDeviceNotFound
	StatusServiceUnavailable
	StatusLookupFailed
	StatusNotInstalled
	StatusDirectoryEnsureFailed
	StatusFileOpenFailed
	StatusFileWriteFailed
	StatusControlCommandFailed
	StatusInstallFailed
	StatusFileReadFailed
)

var statusNames = map[Status]string{
	StatusOK:                    "ok",
	StatusFailed:                "failed",
	StatusInvalidArgument:       "invalid_argument",
	StatusDeviceNotFound:        "device_not_found",
	StatusServiceUnavailable:    "service_unavailable",
	StatusLookupFailed:          "lookup_failed",
	StatusNotInstalled:          "not_installed",
	StatusDirectoryEnsureFailed: "directory_ensure_failed",
	StatusFileOpenFailed:        "file_open_failed",
	StatusFileWriteFailed:       "file_write_failed",
	StatusControlCommandFailed:  "control_command_failed",
	StatusInstallFailed:         "install_failed",
	StatusFileReadFailed:        "file_read_failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// StatusOf maps an operation error onto its Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInvalidBundleID):
		return StatusInvalidArgument
	case errors.Is(err, ErrDeviceNotFound):
		return StatusDeviceNotFound
	case errors.Is(err, ErrServiceUnavailable):
		return StatusServiceUnavailable
	case errors.Is(err, ErrNotInstalled):
		return StatusNotInstalled
	case errors.Is(err, ErrLookupFailed):
		return StatusLookupFailed
	case errors.Is(err, ErrDirectoryEnsureFailed):
		return StatusDirectoryEnsureFailed
	case errors.Is(err, ErrFileOpenFailed):
		return StatusFileOpenFailed
	case errors.Is(err, ErrFileReadFailed):
		return StatusFileReadFailed
	case errors.Is(err, ErrFileWriteFailed):
		return StatusFileWriteFailed
	case errors.Is(err, ErrControlCommandFailed):
		return StatusControlCommandFailed
	case errors.Is(err, ErrInstallFailed):
		return StatusInstallFailed
	default:
		return StatusFailed
	}
}
