// Package handlers provides HTTP request handlers for the netsweep API.
// This file contains the response helpers shared by every handler.
package handlers

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/anstrom/netsweep/internal/api/middleware"
	"github.com/anstrom/netsweep/internal/discovery"
	"github.com/anstrom/netsweep/internal/logging"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// TargetSource expands scan requests into addresses and lists the
// adapters discovery can sweep.
type TargetSource interface {
	Expand(entries []string) ([]string, error)
	Discover(adapter string) ([]string, error)
	ListAdapters() ([]discovery.Adapter, error)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	body, err := sonic.Marshal(data)
	if err != nil {
		logging.Default().Error("Failed to encode JSON response",
			"request_id", middleware.GetRequestID(r),
			"error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	}

	writeJSON(w, r, statusCode, response)
}
