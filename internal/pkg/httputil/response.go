// Package httputil provides the JSON response envelope shared by all API
// handlers: {"success": true, "data": ..., "meta": ...} on success and
// {"success": false, "error": "..."} on failure.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/enersight/ga4-monitor/internal/pkg/logger"
)

// Envelope is the standard success payload.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// ErrorEnvelope is the standard failure payload.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// JSON writes an arbitrary JSON body with the given status code.
func JSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("response encode failed", "error", err)
	}
}

// OK writes a 200 envelope with data only.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// OKMeta writes a 200 envelope with data and meta.
func OKMeta(w http.ResponseWriter, data, meta interface{}) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data, Meta: meta})
}

// Error writes an error envelope. Use for client errors (4xx).
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorEnvelope{Success: false, Error: message})
}

// BadRequest writes a 400 error envelope.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound writes a 404 error envelope.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError writes a 500 envelope. The real error is logged but a
// generic message goes to the client.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// Decode reads JSON from the request body into dst. Returns false and
// writes a 400 response if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// DecodeOptional is Decode for requests where an empty body is allowed
// and leaves dst untouched. Chunked requests carry no Content-Length,
// so emptiness is detected by reading, not by the header.
func DecodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || err == io.EOF {
		return true
	}
	BadRequest(w, "invalid JSON: "+err.Error())
	return false
}
