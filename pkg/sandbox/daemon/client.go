package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/bytedance/sonic"

	"github.com/curaious/uno-sandbox/pkg/sandbox"
)

// Client talks to a sandbox daemon inside a sandbox container or pod.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client for the daemon listening at baseURL,
// e.g. http://10.0.0.12:8080.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sandbox daemon error: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) HttpStatus() int {
	return e.Status
}

// Health returns nil once the daemon answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Exec runs command through the daemon's shell and returns the combined output.
// A timeout of zero leaves the daemon default.
func (c *Client) Exec(ctx context.Context, command string, timeout time.Duration) (*sandbox.ExecOutput, error) {
	in := ExecRequest{Command: command}
	if timeout > 0 {
		in.TimeoutSeconds = int(math.Ceil(timeout.Seconds()))
	}

	var res ExecResponse
	if err := c.do(ctx, http.MethodPost, "/exec/shell", in, &res); err != nil {
		return nil, err
	}
	return &sandbox.ExecOutput{
		Output:    res.Output,
		ExitCode:  res.ExitCode,
		Truncated: res.Truncated,
	}, nil
}

// UploadFiles writes files in one request. Responses follow request order.
func (c *Client) UploadFiles(ctx context.Context, files []sandbox.FileUpload) ([]sandbox.FileResponse, error) {
	in := UploadRequest{Files: make([]UploadItem, len(files))}
	for i, f := range files {
		in.Files[i] = UploadItem{Path: f.Path, Content: f.Content}
	}

	var res UploadResponse
	if err := c.do(ctx, http.MethodPost, "/files/upload", in, &res); err != nil {
		return nil, err
	}

	out := make([]sandbox.FileResponse, len(res.Files))
	for i, f := range res.Files {
		out[i] = sandbox.FileResponse{Path: f.Path, Err: f.Error.toError(f.Path)}
	}
	return out, nil
}

// DownloadFiles reads paths in one request. Responses follow request order.
func (c *Client) DownloadFiles(ctx context.Context, paths []string) ([]sandbox.FileResponse, error) {
	var res DownloadResponse
	if err := c.do(ctx, http.MethodPost, "/files/download", DownloadRequest{Paths: paths}, &res); err != nil {
		return nil, err
	}

	out := make([]sandbox.FileResponse, len(res.Files))
	for i, f := range res.Files {
		out[i] = sandbox.FileResponse{Path: f.Path, Content: f.Content, Err: f.Error.toError(f.Path)}
	}
	return out, nil
}

func (e *FileError) toError(p string) error {
	if e == nil {
		return nil
	}
	return &sandbox.FileTransferError{
		Path: p,
		Kind: sandbox.ErrorKind(e.Code),
		Err:  errors.New(e.Message),
	}
}

// do sends a JSON request and decodes a JSON response (if out is non-nil).
func (c *Client) do(ctx context.Context, method, p string, in any, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	u.Path = path.Join(u.Path, p)

	var body io.Reader
	if in != nil {
		buf, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: string(b)}
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if sonic.Unmarshal(b, &e) == nil && e.Error != "" {
			apiErr.Code = e.Code
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
