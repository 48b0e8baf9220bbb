package web

// errors.go renders service errors as JSON.
//
// The technical error is logged with the request id; the client gets the
// core.MapError message, the suggested action and the support code.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing form with the status
// statusFor derives from it.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)
	if msg.Code == "ERR000" && errors.Is(err, errBadRequest) {
		msg = core.UserMessage{
			Message: strings.TrimPrefix(err.Error(), errBadRequest.Error()+": "),
			Action:  "Correct the request and try again",
			Code:    "REQ000",
		}
	}

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var ie *core.ImportError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &ie),
		errors.Is(err, core.ErrInvalidPattern),
		errors.Is(err, core.ErrInvalidSetting),
		errors.Is(err, core.ErrUnknownEncoding),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRowNotFound),
		errors.Is(err, core.ErrImportNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTooManyImports),
		errors.Is(err, core.ErrNoQueue):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
