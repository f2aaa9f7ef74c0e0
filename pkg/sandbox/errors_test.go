package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HttpStatus() int { return int(e) }

func TestMapFileError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"typed kind wins", &FileTransferError{Kind: IsDirectory, Err: fs.ErrNotExist}, IsDirectory},
		{"fs not exist", fmt.Errorf("open x: %w", fs.ErrNotExist), FileNotFound},
		{"sandbox not found", &NotFoundError{SandboxID: "s"}, FileNotFound},
		{"fs permission", fmt.Errorf("open x: %w", fs.ErrPermission), PermissionDenied},
		{"http 404", statusErr(http.StatusNotFound), FileNotFound},
		{"http 403", statusErr(http.StatusForbidden), PermissionDenied},
		{"http 401", statusErr(http.StatusUnauthorized), PermissionDenied},
		{"http 400", statusErr(http.StatusBadRequest), InvalidPath},
		{"http 500", statusErr(http.StatusInternalServerError), TransferFailed},
		{"message no such file", errors.New("stat /x: No such file or directory"), FileNotFound},
		{"message permission", errors.New("open /root: Permission denied"), PermissionDenied},
		{"message directory", errors.New("read /tmp: is a directory"), IsDirectory},
		{"message escapes", errors.New("path escapes sandbox root"), InvalidPath},
		{"anything else", errors.New("connection reset by peer"), TransferFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFileError(tt.err))
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("cause")

	assert.ErrorIs(t, &ProvisioningTimeoutError{SandboxID: "s", Attempts: 3, LastErr: cause}, cause)
	assert.ErrorIs(t, &ProvisioningTransportError{Provider: "p", Err: cause}, cause)
	assert.ErrorIs(t, &ExecutionTransportError{SandboxID: "s", Err: cause}, cause)
	assert.ErrorIs(t, &CleanupError{SandboxID: "s", Err: cause}, cause)
	assert.ErrorIs(t, &FileTransferError{Path: "/a", Kind: TransferFailed, Err: cause}, cause)

	assert.Contains(t, (&ProvisioningTimeoutError{SandboxID: "s", Attempts: 90}).Error(), "90 attempts")
}
