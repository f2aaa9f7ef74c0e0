package daemon

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/curaious/uno-sandbox/internal/perrors"
)

// FileError is the per-item failure of a batch file request.
type FileError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UploadItem struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

type UploadRequest struct {
	Files []UploadItem `json:"files"`
}

type UploadResult struct {
	Path  string     `json:"path"`
	Error *FileError `json:"error,omitempty"`
}

type UploadResponse struct {
	Files []UploadResult `json:"files"`
}

type DownloadRequest struct {
	Paths []string `json:"paths"`
}

type DownloadResult struct {
	Path    string     `json:"path"`
	Content []byte     `json:"content,omitempty"`
	Error   *FileError `json:"error,omitempty"`
}

type DownloadResponse struct {
	Files []DownloadResult `json:"files"`
}

// handleUpload writes every file of the batch and answers one result per file,
// in request order. Failures of one file never affect the others.
func handleUpload(w http.ResponseWriter, r *http.Request, root string) {
	var req UploadRequest
	if err := decodeJSON(r, &req); err != nil {
		perrors.WriteJSON(w, err)
		return
	}

	res := UploadResponse{Files: make([]UploadResult, len(req.Files))}
	for i, f := range req.Files {
		res.Files[i] = UploadResult{Path: f.Path, Error: writeFile(root, f)}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDownload reads every requested path and answers one result per path,
// in request order.
func handleDownload(w http.ResponseWriter, r *http.Request, root string) {
	var req DownloadRequest
	if err := decodeJSON(r, &req); err != nil {
		perrors.WriteJSON(w, err)
		return
	}

	res := DownloadResponse{Files: make([]DownloadResult, len(req.Paths))}
	for i, p := range req.Paths {
		content, ferr := readFile(root, p)
		res.Files[i] = DownloadResult{Path: p, Content: content, Error: ferr}
	}
	writeJSON(w, http.StatusOK, res)
}

func writeFile(root string, f UploadItem) *FileError {
	fullPath, err := resolvePath(root, f.Path)
	if err != nil || strings.TrimSpace(f.Path) == "" {
		return fileError(perrors.ErrCodeInvalidPath, err)
	}
	if info, err := os.Stat(fullPath); err == nil && info.IsDir() {
		return fileError(perrors.ErrCodeIsDirectory, errors.New("is a directory"))
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return classify(err)
	}
	if err := os.WriteFile(fullPath, f.Content, 0o644); err != nil {
		return classify(err)
	}
	return nil
}

func readFile(root, p string) ([]byte, *FileError) {
	fullPath, err := resolvePath(root, p)
	if err != nil || strings.TrimSpace(p) == "" {
		return nil, fileError(perrors.ErrCodeInvalidPath, err)
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, classify(err)
	}
	if info.IsDir() {
		return nil, fileError(perrors.ErrCodeIsDirectory, errors.New("is a directory"))
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, classify(err)
	}
	return data, nil
}

func classify(err error) *FileError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fileError(perrors.ErrCodeFileNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fileError(perrors.ErrCodePermissionDenied, err)
	case strings.Contains(err.Error(), "is a directory"):
		return fileError(perrors.ErrCodeIsDirectory, err)
	case strings.Contains(err.Error(), "not a directory"):
		return fileError(perrors.ErrCodeInvalidPath, err)
	}
	return fileError(perrors.ErrCodeTransferFailed, err)
}

func fileError(code perrors.ErrCode, err error) *FileError {
	msg := code.Code
	if err != nil {
		msg = err.Error()
	}
	return &FileError{Code: code.Code, Message: msg}
}
