package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/curaious/uno-sandbox/internal/perrors"
)

const (
	defaultTimeoutSeconds = 60

	// DefaultMaxOutput caps the combined output returned for one command.
	DefaultMaxOutput = 1 << 20
)

type ExecRequest struct {
	Command        string            `json:"command"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"` // defaults to 60
	Workdir        string            `json:"workdir,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
}

type ExecResponse struct {
	// Output is stdout and stderr interleaved as the process wrote them.
	Output        string `json:"output"`
	ExitCode      int    `json:"exit_code"`
	Truncated     bool   `json:"truncated"`
	DurationMilli int64  `json:"duration_ms"`
}

type sandboxHandler func(w http.ResponseWriter, r *http.Request, root string)

// withSandboxRoot injects the sandbox root into handlers.
func withSandboxRoot(root string, h sandboxHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, root)
	})
}

// withJSON sets JSON headers.
func withJSON(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		perrors.WriteJSON(w, perrors.NewErrInternalServerError("marshal response", err))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Method != http.MethodPost {
		return perrors.New(perrors.ErrCodeMethodNotAllowed, "method not allowed", errors.New("method not allowed"))
	}
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(v); err != nil {
		return perrors.NewErrInvalidRequest("invalid json", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func handleExecShell(w http.ResponseWriter, r *http.Request, root string) {
	var req ExecRequest
	if err := decodeJSON(r, &req); err != nil {
		perrors.WriteJSON(w, err)
		return
	}

	if strings.TrimSpace(req.Command) == "" {
		perrors.WriteJSON(w, perrors.NewErrInvalidRequest("command is required", errors.New("command is required")))
		return
	}

	timeout := time.Duration(req.TimeoutSeconds)
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}
	timeout = timeout * time.Second

	workdir, err := resolvePath(root, req.Workdir)
	if err != nil {
		perrors.WriteJSON(w, perrors.NewErrInvalidPath("invalid workdir", err))
		return
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		perrors.WriteJSON(w, perrors.NewErrInternalServerError("create workdir", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	start := time.Now()

	// /bin/sh is available in virtually all containers and supports pipes,
	// quoting and redirections.
	res, err := runCommand(ctx, "/bin/sh", []string{"-c", req.Command}, workdir, req.Env, DefaultMaxOutput)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.ErrorContext(ctx, "shell exec error", slog.Any("error", err))
		perrors.WriteJSON(w, perrors.NewErrInternalServerError("exec failed", err))
		return
	}
	res.DurationMilli = time.Since(start).Milliseconds()

	status := http.StatusOK
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, res)
}

// limitedBuffer keeps the first max bytes written to it and records whether
// anything was dropped.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.max - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room <= 0 {
			return n, nil
		}
		p = p[:room]
	}
	b.buf.Write(p)
	return n, nil
}

func runCommand(ctx context.Context, name string, args []string, workdir string, env map[string]string, maxOutput int) (*ExecResponse, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workdir
	cmd.WaitDelay = 2 * time.Second

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// The same writer for both streams keeps their relative order.
	out := &limitedBuffer{max: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	slog.DebugContext(ctx, "executing command", slog.String("cmd", cmd.String()), slog.String("workdir", workdir))
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return &ExecResponse{
				Output:    out.buf.String(),
				ExitCode:  -1,
				Truncated: out.truncated,
			}, ctx.Err()
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("run: %w", err)
		}
	}

	return &ExecResponse{
		Output:    out.buf.String(),
		ExitCode:  exitCode,
		Truncated: out.truncated,
	}, nil
}

// resolvePath returns an absolute path inside the sandbox root. Relative
// paths are taken from root. Absolute paths already under root are kept and
// other absolute paths are re-rooted under root. If p is empty, root is
// returned.
func resolvePath(root, p string) (string, error) {
	cleanRoot := filepath.Clean(root)
	if strings.TrimSpace(p) == "" {
		return cleanRoot, nil
	}
	if strings.ContainsRune(p, 0) {
		return "", errors.New("invalid path: contains NUL byte")
	}

	var target string
	if filepath.IsAbs(p) && within(cleanRoot, filepath.Clean(p)) {
		target = filepath.Clean(p)
	} else {
		target = filepath.Join(cleanRoot, p)
	}

	if !within(cleanRoot, target) {
		return "", errors.New("invalid path: escapes sandbox root")
	}
	return target, nil
}

func within(root, target string) bool {
	if target == root {
		return true
	}
	if root == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(target, root+string(filepath.Separator))
}
