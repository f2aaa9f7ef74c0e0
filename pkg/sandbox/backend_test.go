package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackend(t *testing.T, p *fakeProvider, opts ...Option) (*Session, *Backend) {
	t.Helper()
	s := NewSession(p, append([]Option{WithPoller(fastPoller(1))}, opts...)...)
	b, err := s.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, b
}

func TestExecute_NonZeroExitIsNotAnError(t *testing.T) {
	p := newFakeProvider()
	_, b := openBackend(t, p)

	res, err := b.Execute(context.Background(), "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "sbx-1", b.ID())
}

func TestExecute_TransportError(t *testing.T) {
	p := newFakeProvider()
	_, b := openBackend(t, p)
	p.mu.Lock()
	p.execErr = errors.New("connection reset")
	p.mu.Unlock()

	_, err := b.Execute(context.Background(), "ls")
	var execErr *ExecutionTransportError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "ls", execErr.Command)
	assert.Equal(t, "sbx-1", execErr.SandboxID)
	assert.ErrorIs(t, err, p.execErr)
}

func TestExecute_AfterClose(t *testing.T) {
	p := newFakeProvider()
	s, b := openBackend(t, p)
	require.NoError(t, s.Close(context.Background()))

	_, err := b.Execute(context.Background(), "echo hi")
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = b.UploadFiles(context.Background(), []FileUpload{{Path: "/a", Content: []byte("a")}})
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = b.DownloadFiles(context.Background(), []string{"/a"})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestExecute_ConcurrentCallsAreSerialised(t *testing.T) {
	p := newFakeProvider()
	_, b := openBackend(t, p)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := b.Execute(context.Background(), fmt.Sprintf("echo %d", i))
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("%d\n", i), res.Output)
		}(i)
	}
	wg.Wait()

	assert.False(t, p.overlap, "provider calls overlapped")
	assert.Len(t, p.execs, 20)
}

func TestUploadFiles_MalformedEntry(t *testing.T) {
	p := newFakeProvider()
	_, b := openBackend(t, p)

	files := []FileUpload{
		{Path: "/work/a.txt", Content: []byte("a")},
		{Path: "/work/b.txt", Content: []byte("b")},
		{Path: "../../etc/passwd", Content: []byte("x")},
		{Path: "/work/d.txt", Content: []byte("d")},
	}
	results, err := b.UploadFiles(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, results, len(files))

	for i, r := range results {
		assert.Equal(t, files[i].Path, r.Path)
		if i == 2 {
			assert.Equal(t, InvalidPath, r.Error)
			continue
		}
		assert.True(t, r.OK(), "entry %d", i)
	}

	require.Len(t, p.uploads, 1)
	assert.Len(t, p.uploads[0], 3, "the malformed entry is never sent")
}

func TestDownloadFiles_OrderAndErrors(t *testing.T) {
	p := newFakeProvider()
	p.files["/work/a.txt"] = []byte("alpha")
	p.files["/work/c.txt"] = []byte("gamma")
	_, b := openBackend(t, p)

	paths := []string{"/work/c.txt", "/work/missing.txt", "", "/work/a.txt"}
	results, err := b.DownloadFiles(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, results, len(paths))

	assert.Equal(t, FileTransferResult{Path: "/work/c.txt", Content: []byte("gamma")}, results[0])
	assert.Equal(t, FileTransferResult{Path: "/work/missing.txt", Error: FileNotFound}, results[1])
	assert.Equal(t, FileTransferResult{Path: "", Error: InvalidPath}, results[2])
	assert.Equal(t, FileTransferResult{Path: "/work/a.txt", Content: []byte("alpha")}, results[3])
}

func TestUploadFiles_WholeBatchFailure(t *testing.T) {
	p := newFakeProvider()
	_, b := openBackend(t, p)
	p.mu.Lock()
	p.uploadErr = errors.New("connection refused")
	p.mu.Unlock()

	results, err := b.UploadFiles(context.Background(), []FileUpload{
		{Path: "/a", Content: []byte("a")},
		{Path: "bad\x00path"},
		{Path: "/b", Content: []byte("b")},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, TransferFailed, results[0].Error)
	assert.Equal(t, InvalidPath, results[1].Error)
	assert.Equal(t, TransferFailed, results[2].Error)
}

func TestUploadFiles_ProviderItemErrors(t *testing.T) {
	p := newFakeProvider()
	p.uploadResp = func(files []FileUpload) []FileResponse {
		// Answer only the first two entries, the second with a typed failure.
		return []FileResponse{
			{Path: files[0].Path},
			{Path: files[1].Path, Err: &FileTransferError{Path: files[1].Path, Kind: PermissionDenied}},
		}
	}
	_, b := openBackend(t, p)

	results, err := b.UploadFiles(context.Background(), []FileUpload{
		{Path: "/a"}, {Path: "/root/b"}, {Path: "/c"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.Equal(t, PermissionDenied, results[1].Error)
	assert.Equal(t, TransferFailed, results[2].Error, "missing answers are failures")
}

func TestValidatePath(t *testing.T) {
	valid := []string{"/home/daytona/a.txt", "a/b.txt", "a/../b.txt", "/a/../../b"}
	for _, p := range valid {
		assert.NoError(t, ValidatePath(p), p)
	}

	invalid := []string{"", "   ", "..", "../a", "a/../../b", "a\x00b"}
	for _, p := range invalid {
		err := ValidatePath(p)
		require.Error(t, err, p)
		assert.Equal(t, InvalidPath, MapFileError(err), p)
	}
}
