package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the error object every endpoint answers with.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// encodeFailure is sent when a payload cannot be marshalled. It is fixed so the
// client still receives the canonical shape.
var encodeFailure = []byte(`{"error":{"code":"INTERNAL","message":"internal error"}}` + "\n")

// JSON marshals v before touching the writer, so an unencodable payload becomes
// a 500 instead of a truncated body behind a success status.
func JSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status, body = http.StatusInternalServerError, encodeFailure
	} else {
		body = append(body, '\n')
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// JSONError writes {"error": {...}}.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, errorEnvelope{Error: ErrorBody{Code: code, Message: message, Details: details}})
}
