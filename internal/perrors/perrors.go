package perrors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/bytedance/sonic"
)

type ErrCode struct {
	Code   string `json:"code"`
	Status int    `json:"status"`
}

var (
	ErrCodeInvalidRequest      ErrCode = ErrCode{"invalid_request", http.StatusBadRequest}
	ErrCodeInternalServer              = ErrCode{"internal_server_error", http.StatusInternalServerError}
	ErrCodeNotFound                    = ErrCode{"not_found", http.StatusNotFound}
	ErrCodeConflict                    = ErrCode{"conflict", http.StatusConflict}
	ErrCodeUnauthorized                = ErrCode{"unauthorized", http.StatusUnauthorized}
	ErrCodeForbidden                   = ErrCode{"forbidden", http.StatusForbidden}
	ErrCodeBadRequest                  = ErrCode{"bad_request", http.StatusBadRequest}
	ErrCodeMethodNotAllowed            = ErrCode{"method_not_allowed", http.StatusMethodNotAllowed}
	ErrCodeTooManyRequests             = ErrCode{"too_many_requests", http.StatusTooManyRequests}
	ErrCodeInternalServerError         = ErrCode{"internal_server_error", http.StatusInternalServerError}
	ErrCodeNotImplemented              = ErrCode{"not_implemented", http.StatusNotImplemented}
	ErrCodeGatewayTimeout              = ErrCode{"gateway_timeout", http.StatusGatewayTimeout}

	// File transfer codes, reported per item by the sandbox daemon.
	ErrCodeFileNotFound     = ErrCode{"file_not_found", http.StatusNotFound}
	ErrCodePermissionDenied = ErrCode{"permission_denied", http.StatusForbidden}
	ErrCodeIsDirectory      = ErrCode{"is_directory", http.StatusBadRequest}
	ErrCodeInvalidPath      = ErrCode{"invalid_path", http.StatusBadRequest}
	ErrCodeTransferFailed   = ErrCode{"transfer_failed", http.StatusInternalServerError}
)

type Err struct {
	Message    string                   `json:"-"`
	Err        string                   `json:"error"`
	Code       ErrCode                  `json:"-"`
	Stacktrace []string                 `json:"-"`
	Args       []map[string]interface{} `json:"args"`
}

func (e Err) Error() string {
	return e.Err
}

func (e Err) HttpStatus() int {
	return e.Code.Status
}

func (e Err) Print(ctx context.Context) {
	args := []any{slog.Any("error", e.Error())}
	if len(e.Args) > 0 {
		for k, v := range e.Args[0] {
			args = append(args, slog.Any(k, v))
		}
	}
	args = append(args, slog.Any("stacktrace", e.Stacktrace))
	slog.ErrorContext(ctx, e.Message, args...)
}

func New(code ErrCode, msg string, err error, args ...map[string]interface{}) error {
	pc := make([]uintptr, 20)
	count := runtime.Callers(1, pc)
	frames := runtime.CallersFrames(pc[:count])

	var stacktrace []string
	for frame, hasMore := frames.Next(); hasMore; frame, hasMore = frames.Next() {
		stacktrace = append(stacktrace, fmt.Sprintf("%s:%d", frame.File, frame.Line))
	}

	errString := "error missing"
	if err != nil {
		errString = err.Error()
	}

	return Err{
		Code:       code,
		Message:    msg,
		Err:        errString,
		Stacktrace: stacktrace,
		Args:       args,
	}
}

func NewErrInvalidRequest(msg string, err error, args ...map[string]interface{}) error {
	return New(ErrCodeInvalidRequest, msg, err, args...)
}

func NewErrInternalServerError(msg string, err error, args ...map[string]interface{}) error {
	return New(ErrCodeInternalServer, msg, err, args...)
}

func NewErrInvalidPath(msg string, err error, args ...map[string]interface{}) error {
	return New(ErrCodeInvalidPath, msg, err, args...)
}

// CodeOf returns the ErrCode carried by err, or ErrCodeInternalServer.
func CodeOf(err error) ErrCode {
	var e Err
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternalServer
}

// WriteJSON writes err as a JSON body with the status of its code.
func WriteJSON(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	body, mErr := sonic.Marshal(map[string]string{
		"error": err.Error(),
		"code":  code.Code,
	})
	if mErr != nil {
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.Status)
	_, _ = w.Write(body)
}
