package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Backend is the command and file contract over a ready sandbox.
// It is safe for concurrent use; calls are serialised on the session loop.
type Backend struct {
	s *Session
	h *Handle
}

// ID returns the provider's sandbox id.
func (b *Backend) ID() string {
	return b.h.ID
}

func (b *Backend) closed() bool {
	return b.s.closing.Load()
}

// Execute runs command in the sandbox and returns its combined output.
// A non-zero exit code is reported in the result with a nil error; an error
// is only returned when the command could not be run or its result read.
func (b *Backend) Execute(ctx context.Context, command string) (ExecutionResult, error) {
	if b.closed() {
		return ExecutionResult{}, ErrSessionClosed
	}

	ctx, span := tracer.Start(ctx, "Sandbox.Execute", trace.WithAttributes(
		attribute.String("sandbox.id", b.h.ID),
	))
	defer span.End()

	out, err := submit(ctx, b.s.loop, func(ctx context.Context) (*ExecOutput, error) {
		return b.s.provider.Exec(ctx, b.h, command, b.s.execTimeout)
	})
	if errors.Is(err, ErrLoopStopped) {
		return ExecutionResult{}, ErrSessionClosed
	}
	if err == nil && out == nil {
		err = errors.New("provider returned no result")
	}
	b.s.metrics.execution(b.s.provider.Name(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ExecutionResult{}, &ExecutionTransportError{SandboxID: b.h.ID, Command: command, Err: err}
	}

	span.SetAttributes(attribute.Int("sandbox.exit_code", out.ExitCode))
	return ExecutionResult{
		Output:    out.Output,
		ExitCode:  out.ExitCode,
		Truncated: out.Truncated,
	}, nil
}

// UploadFiles writes files into the sandbox in a single provider round trip.
// The result has one entry per input, in input order. Per-file failures are
// reported in the entries; the error is only ErrSessionClosed.
func (b *Backend) UploadFiles(ctx context.Context, files []FileUpload) ([]FileTransferResult, error) {
	if b.closed() {
		return nil, ErrSessionClosed
	}

	ctx, span := tracer.Start(ctx, "Sandbox.UploadFiles", trace.WithAttributes(
		attribute.String("sandbox.id", b.h.ID),
		attribute.Int("sandbox.files", len(files)),
	))
	defer span.End()

	return b.upload(ctx, files)
}

// DownloadFiles reads paths from the sandbox in a single provider round trip.
// The result has one entry per input, in input order.
func (b *Backend) DownloadFiles(ctx context.Context, paths []string) ([]FileTransferResult, error) {
	if b.closed() {
		return nil, ErrSessionClosed
	}

	ctx, span := tracer.Start(ctx, "Sandbox.DownloadFiles", trace.WithAttributes(
		attribute.String("sandbox.id", b.h.ID),
		attribute.Int("sandbox.files", len(paths)),
	))
	defer span.End()

	results := make([]FileTransferResult, len(paths))
	var (
		sent []string
		idx  []int
	)
	for i, p := range paths {
		results[i].Path = p
		if err := ValidatePath(p); err != nil {
			results[i].Error = InvalidPath
			continue
		}
		sent = append(sent, p)
		idx = append(idx, i)
	}

	if len(sent) > 0 {
		resp, err := submit(ctx, b.s.loop, func(ctx context.Context) ([]FileResponse, error) {
			return b.s.provider.DownloadFiles(ctx, b.h, sent)
		})
		if errors.Is(err, ErrLoopStopped) {
			return nil, ErrSessionClosed
		}
		b.merge(ctx, "download", results, idx, resp, err)
	}

	b.s.metrics.transfers(b.s.provider.Name(), "download", results)
	return results, nil
}

func (b *Backend) upload(ctx context.Context, files []FileUpload) ([]FileTransferResult, error) {
	results := make([]FileTransferResult, len(files))
	var (
		sent []FileUpload
		idx  []int
	)
	for i, f := range files {
		results[i].Path = f.Path
		if err := ValidatePath(f.Path); err != nil {
			results[i].Error = InvalidPath
			continue
		}
		sent = append(sent, f)
		idx = append(idx, i)
	}

	if len(sent) > 0 {
		resp, err := submit(ctx, b.s.loop, func(ctx context.Context) ([]FileResponse, error) {
			return b.s.provider.UploadFiles(ctx, b.h, sent)
		})
		if errors.Is(err, ErrLoopStopped) {
			return nil, ErrSessionClosed
		}
		b.merge(ctx, "upload", results, idx, resp, err)
	}

	b.s.metrics.transfers(b.s.provider.Name(), "upload", results)
	return results, nil
}

// merge maps the provider answers for the sent entries back onto results.
// idx[j] is the position in results of the j-th sent entry.
func (b *Backend) merge(ctx context.Context, direction string, results []FileTransferResult, idx []int, resp []FileResponse, err error) {
	if err != nil {
		kind := MapFileError(err)
		b.s.logger.WarnContext(ctx, "batch file transfer failed",
			slog.String("sandbox_id", b.h.ID),
			slog.String("direction", direction),
			slog.Int("files", len(idx)),
			slog.Any("error", err),
		)
		for _, i := range idx {
			results[i].Error = kind
		}
		return
	}

	for j, i := range idx {
		if j >= len(resp) {
			results[i].Error = TransferFailed
			continue
		}
		r := resp[j]
		if r.Err != nil {
			results[i].Error = MapFileError(r.Err)
			continue
		}
		if direction == "download" {
			results[i].Content = r.Content
		}
	}
	if len(resp) != len(idx) {
		b.s.logger.WarnContext(ctx, "provider returned a misaligned batch",
			slog.String("sandbox_id", b.h.ID),
			slog.Int("sent", len(idx)),
			slog.Int("received", len(resp)),
		)
	}
}

// ValidatePath rejects paths that can never name a file in the sandbox:
// empty paths, paths with NUL bytes and relative paths escaping their base.
func ValidatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return &FileTransferError{Path: p, Kind: InvalidPath, Err: errors.New("empty path")}
	}
	if strings.ContainsRune(p, 0) {
		return &FileTransferError{Path: p, Kind: InvalidPath, Err: errors.New("path contains NUL byte")}
	}
	if !path.IsAbs(p) {
		clean := path.Clean(p)
		if clean == ".." || strings.HasPrefix(clean, "../") {
			return &FileTransferError{Path: p, Kind: InvalidPath, Err: errors.New("path escapes base directory")}
		}
	}
	return nil
}
