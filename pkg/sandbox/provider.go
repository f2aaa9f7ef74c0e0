// Package sandbox provisions one remote sandbox per agent session and exposes a
// command-execution and batch file-transfer contract over it.
//
// A Session owns the sandbox for its whole lifetime: it creates it through a
// Provider, waits until it answers commands, seeds it with support files and
// hands a Backend to the caller. The sandbox is deleted exactly once when the
// session closes, whatever the outcome of the work done with it.
package sandbox

import (
	"context"
	"time"
)

// Provider is the remote API that actually hosts sandboxes.
//
// Implementations are not required to be safe for concurrent use on the same
// Handle: a Session serialises every call for its sandbox on a single goroutine.
type Provider interface {
	// Name identifies the provider in logs, metrics and traces.
	Name() string
	// Create provisions a new sandbox. The sandbox may not accept commands yet.
	Create(ctx context.Context) (*Handle, error)
	// Exec runs a shell command and returns its combined output.
	// A non-zero exit status is a result, not an error.
	Exec(ctx context.Context, h *Handle, command string, timeout time.Duration) (*ExecOutput, error)
	// UploadFiles writes files in one round trip. Responses follow request order.
	UploadFiles(ctx context.Context, h *Handle, files []FileUpload) ([]FileResponse, error)
	// DownloadFiles reads files in one round trip. Responses follow request order.
	DownloadFiles(ctx context.Context, h *Handle, paths []string) ([]FileResponse, error)
	// Delete tears the sandbox down.
	Delete(ctx context.Context, h *Handle) error
}

// Handle identifies a sandbox created by a Provider.
type Handle struct {
	ID       string
	Provider string

	// Meta carries provider specific addressing (pod IP, endpoint, ...).
	Meta map[string]string
}

// ExecOutput is what a provider reports for one command.
type ExecOutput struct {
	Output    string
	ExitCode  int
	Truncated bool
}

// FileUpload is one entry of an upload batch.
type FileUpload struct {
	Path    string
	Content []byte
}

// FileResponse is a provider's per-item answer to a batch transfer.
// Err holds the provider-native failure, if any.
type FileResponse struct {
	Path    string
	Content []byte
	Err     error
}

// ExecutionResult is the outcome of Backend.Execute.
type ExecutionResult struct {
	// Output is stdout and stderr merged in the order the provider saw them.
	Output   string
	ExitCode int
	// Truncated reports that the provider cut the output short.
	Truncated bool
}

// ErrorKind classifies a failed file transfer entry.
type ErrorKind string

const (
	FileNotFound     ErrorKind = "file_not_found"
	PermissionDenied ErrorKind = "permission_denied"
	IsDirectory      ErrorKind = "is_directory"
	InvalidPath      ErrorKind = "invalid_path"
	TransferFailed   ErrorKind = "transfer_failed"
)

// FileTransferResult is the outcome of one entry of a batch transfer.
// Error is empty when the entry succeeded.
type FileTransferResult struct {
	Path    string
	Content []byte
	Error   ErrorKind
}

// OK reports whether the entry succeeded.
func (r FileTransferResult) OK() bool {
	return r.Error == ""
}
