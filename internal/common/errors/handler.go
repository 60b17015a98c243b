// internal/common/errors/handler.go
package errors

import (
	"encoding/json"
	"net/http"
)

// Logger is the subset of the logger the handler needs.
type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// ErrorHandler writes errors to HTTP responses with standardized bodies.
type ErrorHandler struct {
	logger Logger
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Response is the JSON body of every error answered by the service.
type Response struct {
	Error     string                 `json:"error"`
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Write normalizes err and answers with the mapped status.
func (h *ErrorHandler) Write(w http.ResponseWriter, err error) {
	stdErr := AsStandardError(err)
	status := HTTPStatus(stdErr.Code)

	fields := map[string]interface{}{
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"status":        status,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	if h.logger != nil {
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", fields)
		} else {
			h.logger.Warn("request rejected", fields)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Error:     http.StatusText(status),
		Code:      stdErr.Code,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Metadata:  stdErr.Metadata,
	})
}

// WriteHTTP answers with err without logging. Metadata entries are lifted to
// the top level of the body next to error, code and message.
func WriteHTTP(w http.ResponseWriter, err error) {
	stdErr := AsStandardError(err)
	status := HTTPStatus(stdErr.Code)

	body := make(map[string]interface{}, len(stdErr.Metadata)+4)
	for k, v := range stdErr.Metadata {
		body[k] = v
	}
	body["error"] = http.StatusText(status)
	body["code"] = stdErr.Code
	body["message"] = stdErr.Message
	body["retryable"] = stdErr.Retryable
	if stdErr.Details != "" {
		body["details"] = stdErr.Details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
