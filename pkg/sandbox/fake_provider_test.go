package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeProvider is an in-memory Provider. The readiness command fails
// notReadyFor times before it succeeds.
type fakeProvider struct {
	mu sync.Mutex

	createErr   error
	notReadyFor int
	deleteErr   error
	uploadErr   error
	execErr     error

	// uploadResp, when set, replaces the computed upload answer.
	uploadResp func(files []FileUpload) []FileResponse

	creates        int
	readinessCalls int
	execs          []string
	deletes        int
	uploads        [][]FileUpload
	downloads      [][]string

	inFlight int
	overlap  bool

	files map[string][]byte
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{files: make(map[string][]byte)}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.mu.Unlock()
}

func (f *fakeProvider) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeProvider) Create(ctx context.Context) (*Handle, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &Handle{ID: fmt.Sprintf("sbx-%d", f.creates)}, nil
}

func (f *fakeProvider) Exec(ctx context.Context, h *Handle, command string, timeout time.Duration) (*ExecOutput, error) {
	f.enter()
	defer f.leave()

	// Give concurrent callers a chance to overlap if serialisation is broken.
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()

	if command == DefaultReadinessCommand {
		f.readinessCalls++
		if f.readinessCalls <= f.notReadyFor {
			return nil, errors.New("sandbox is starting")
		}
		return &ExecOutput{Output: "ready\n"}, nil
	}

	f.execs = append(f.execs, command)
	if f.execErr != nil {
		return nil, f.execErr
	}
	switch {
	case strings.HasPrefix(command, "echo "):
		return &ExecOutput{Output: strings.TrimPrefix(command, "echo ") + "\n"}, nil
	case strings.HasPrefix(command, "exit "):
		code, _ := strconv.Atoi(strings.TrimPrefix(command, "exit "))
		return &ExecOutput{ExitCode: code}, nil
	}
	return &ExecOutput{Output: "sh: " + command + ": not found\n", ExitCode: 127}, nil
}

func (f *fakeProvider) UploadFiles(ctx context.Context, h *Handle, files []FileUpload) ([]FileResponse, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, files)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if f.uploadResp != nil {
		return f.uploadResp(files), nil
	}

	out := make([]FileResponse, len(files))
	for i, file := range files {
		f.files[file.Path] = file.Content
		out[i] = FileResponse{Path: file.Path}
	}
	return out, nil
}

func (f *fakeProvider) DownloadFiles(ctx context.Context, h *Handle, paths []string) ([]FileResponse, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, paths)

	out := make([]FileResponse, len(paths))
	for i, p := range paths {
		content, ok := f.files[p]
		if !ok {
			out[i] = FileResponse{Path: p, Err: fmt.Errorf("open %s: %w", p, fs.ErrNotExist)}
			continue
		}
		out[i] = FileResponse{Path: p, Content: content}
	}
	return out, nil
}

func (f *fakeProvider) Delete(ctx context.Context, h *Handle) error {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.deleteErr
}

func (f *fakeProvider) stats() (creates, readiness, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.readinessCalls, f.deletes
}

func fastPoller(attempts int) Poller {
	return Poller{Attempts: attempts, Delay: time.Millisecond, AttemptTimeout: time.Second}
}
