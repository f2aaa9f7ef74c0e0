package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrSessionUsed is returned when Open is called on a session that was already opened.
	ErrSessionUsed = errors.New("sandbox session already used")
	// ErrSessionClosed is returned by Backend calls made after the session closed.
	ErrSessionClosed = errors.New("sandbox session closed")
	// ErrLoopStopped is returned when work is submitted to a stopped dispatch loop.
	ErrLoopStopped = errors.New("sandbox dispatch loop stopped")
)

// NotFoundError is returned when a provider does not know a sandbox.
type NotFoundError struct {
	SandboxID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sandbox %s not found", e.SandboxID)
}

// ProvisioningTimeoutError is returned when a sandbox never became ready
// within the readiness attempt budget.
type ProvisioningTimeoutError struct {
	SandboxID string
	Attempts  int
	Elapsed   time.Duration
	LastErr   error
}

func (e *ProvisioningTimeoutError) Error() string {
	msg := fmt.Sprintf("sandbox %s not ready after %d attempts (%s)", e.SandboxID, e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ProvisioningTimeoutError) Unwrap() error {
	return e.LastErr
}

// ProvisioningTransportError is returned when the provider failed to create the sandbox.
type ProvisioningTransportError struct {
	Provider string
	Err      error
}

func (e *ProvisioningTransportError) Error() string {
	return fmt.Sprintf("create sandbox with %s: %v", e.Provider, e.Err)
}

func (e *ProvisioningTransportError) Unwrap() error {
	return e.Err
}

// ExecutionTransportError is returned when a command could not be dispatched
// or its result could not be read back. It never represents a non-zero exit.
type ExecutionTransportError struct {
	SandboxID string
	Command   string
	Err       error
}

func (e *ExecutionTransportError) Error() string {
	return fmt.Sprintf("execute in sandbox %s: %v", e.SandboxID, e.Err)
}

func (e *ExecutionTransportError) Unwrap() error {
	return e.Err
}

// FileTransferError describes one failed entry of a batch transfer.
// Providers that already know the failure class return it as FileResponse.Err.
type FileTransferError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func (e *FileTransferError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *FileTransferError) Unwrap() error {
	return e.Err
}

// CleanupError records a failed sandbox deletion. It is logged and kept on the
// session, never returned in place of the session's own outcome.
type CleanupError struct {
	SandboxID string
	Err       error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("delete sandbox %s: %v", e.SandboxID, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// httpStatuser is implemented by provider API errors that carry an HTTP status.
type httpStatuser interface {
	HttpStatus() int
}

// MapFileError classifies a provider-native per-file failure.
func MapFileError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var fte *FileTransferError
	if errors.As(err, &fte) && fte.Kind != "" {
		return fte.Kind
	}

	var nf *NotFoundError
	switch {
	case errors.As(err, &nf), errors.Is(err, fs.ErrNotExist):
		return FileNotFound
	case errors.Is(err, fs.ErrPermission):
		return PermissionDenied
	}

	var hs httpStatuser
	if errors.As(err, &hs) {
		switch hs.HttpStatus() {
		case http.StatusNotFound:
			return FileNotFound
		case http.StatusForbidden, http.StatusUnauthorized:
			return PermissionDenied
		case http.StatusBadRequest:
			return InvalidPath
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "not found"):
		return FileNotFound
	case strings.Contains(msg, "permission denied"):
		return PermissionDenied
	case strings.Contains(msg, "is a directory"):
		return IsDirectory
	case strings.Contains(msg, "invalid path"), strings.Contains(msg, "escapes"):
		return InvalidPath
	}
	return TransferFailed
}
