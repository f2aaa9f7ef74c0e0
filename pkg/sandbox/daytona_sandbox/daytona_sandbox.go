// Package daytona_sandbox hosts sandboxes on a Daytona-compatible remote API.
package daytona_sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/curaious/uno-sandbox/pkg/sandbox"
)

const (
	ProviderName   = "daytona"
	DefaultBaseURL = "https://app.daytona.io/api"
)

type Config struct {
	APIKey  string
	BaseURL string
	// Target is the optional region the sandbox is created in.
	Target string

	HTTPClient *http.Client
}

// Provider talks to the control plane and the per-sandbox toolbox API.
type Provider struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("daytona api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Provider{cfg: cfg, httpClient: httpClient}, nil
}

// APIError is a non-2xx answer from the remote API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daytona error: status=%d: %s", e.Status, e.Message)
}

func (e *APIError) HttpStatus() int {
	return e.Status
}

type createRequest struct {
	Target string            `json:"target,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

type sandboxResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type executeRequest struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type executeResponse struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

type downloadRequest struct {
	Paths []string `json:"paths"`
}

type downloadItem struct {
	Path       string `json:"path"`
	Content    []byte `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

type downloadResponse struct {
	Files []downloadItem `json:"files"`
}

func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) Create(ctx context.Context) (*sandbox.Handle, error) {
	in := createRequest{
		Target: p.cfg.Target,
		Labels: map[string]string{"managed": "uno"},
	}
	var out sandboxResponse
	if err := p.doJSON(ctx, http.MethodPost, "/sandbox", in, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("daytona returned a sandbox without id")
	}

	return &sandbox.Handle{
		ID:       out.ID,
		Provider: ProviderName,
		Meta:     map[string]string{"state": out.State},
	}, nil
}

// Exec runs command through the toolbox process API. The remote side merges
// stdout and stderr and never truncates.
func (p *Provider) Exec(ctx context.Context, h *sandbox.Handle, command string, timeout time.Duration) (*sandbox.ExecOutput, error) {
	in := executeRequest{Command: command}
	if timeout > 0 {
		in.Timeout = int(math.Ceil(timeout.Seconds()))
	}

	var out executeResponse
	if err := p.doJSON(ctx, http.MethodPost, p.toolbox(h, "/process/execute"), in, &out); err != nil {
		return nil, err
	}
	return &sandbox.ExecOutput{
		Output:   out.Result,
		ExitCode: out.ExitCode,
	}, nil
}

// UploadFiles sends every file in one multipart request. The remote API only
// reports whole-batch failures, so a success acknowledges every file.
func (p *Provider) UploadFiles(ctx context.Context, h *sandbox.Handle, files []sandbox.FileUpload) ([]sandbox.FileResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, f := range files {
		if err := mw.WriteField(fmt.Sprintf("files[%d].path", i), f.Path); err != nil {
			return nil, fmt.Errorf("encode upload: %w", err)
		}
		fw, err := mw.CreateFormFile(fmt.Sprintf("files[%d].file", i), f.Path)
		if err != nil {
			return nil, fmt.Errorf("encode upload: %w", err)
		}
		if _, err := fw.Write(f.Content); err != nil {
			return nil, fmt.Errorf("encode upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	if err := p.do(ctx, http.MethodPost, p.toolbox(h, "/files/bulk-upload"), mw.FormDataContentType(), &body, nil); err != nil {
		return nil, err
	}

	out := make([]sandbox.FileResponse, len(files))
	for i, f := range files {
		out[i] = sandbox.FileResponse{Path: f.Path}
	}
	return out, nil
}

func (p *Provider) DownloadFiles(ctx context.Context, h *sandbox.Handle, paths []string) ([]sandbox.FileResponse, error) {
	var res downloadResponse
	if err := p.doJSON(ctx, http.MethodPost, p.toolbox(h, "/files/bulk-download"), downloadRequest{Paths: paths}, &res); err != nil {
		return nil, err
	}

	out := make([]sandbox.FileResponse, len(res.Files))
	for i, f := range res.Files {
		out[i] = sandbox.FileResponse{Path: f.Path, Content: f.Content}
		if f.Error != "" || f.StatusCode >= 400 {
			status := f.StatusCode
			if status == 0 {
				status = http.StatusInternalServerError
			}
			out[i].Content = nil
			out[i].Err = &APIError{Status: status, Message: f.Error}
		}
	}
	return out, nil
}

func (p *Provider) Delete(ctx context.Context, h *sandbox.Handle) error {
	err := p.do(ctx, http.MethodDelete, "/sandbox/"+url.PathEscape(h.ID)+"?force=true", "", nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return &sandbox.NotFoundError{SandboxID: h.ID}
	}
	return err
}

func (p *Provider) toolbox(h *sandbox.Handle, endpoint string) string {
	return "/toolbox/" + url.PathEscape(h.ID) + "/toolbox" + endpoint
}

func (p *Provider) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		buf, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}
	return p.do(ctx, method, path, contentType, body, out)
}

func (p *Provider) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(b))
		var e struct {
			Message string `json:"message"`
		}
		if sonic.Unmarshal(b, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(b) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
