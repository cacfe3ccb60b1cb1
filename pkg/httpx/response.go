// Package httpx writes the JSON bodies returned by the tinylog HTTP API.
package httpx

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondJSON writes data with the given status. The body is marshalled
// before the header goes out, so a value that cannot be encoded turns into a
// 500 instead of a truncated 2xx.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to encode %T response: %v", data, err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{
			Error:   http.StatusText(status),
			Message: "response encoding failed",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// RespondError replies with status and err's text; a nil err sends only the
// status text.
func RespondError(w http.ResponseWriter, status int, err error) {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	RespondErrorString(w, status, msg)
}

// RespondErrorString replies with status and message.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}
