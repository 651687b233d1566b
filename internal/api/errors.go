package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/DevHatRo/scancan"
)

// statusError is an error that knows its HTTP rendering.
type statusError struct {
	status int
	msg    string
	// path is reported only for virus-found errors.
	path  string
	found bool
	cause error
}

func (e *statusError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%d %s: %v", e.status, e.msg, e.cause)
	}
	return fmt.Sprintf("%d %s", e.status, e.msg)
}

func (e *statusError) Unwrap() error {
	return e.cause
}

func newStatusError(status int, msg string, cause error) *statusError {
	return &statusError{status: status, msg: msg, cause: cause}
}

// virusFound reports a FOUND reply. path may be empty.
func virusFound(reply, path string) *statusError {
	return &statusError{
		status: http.StatusNotAcceptable,
		msg:    reply,
		path:   path,
		found:  true,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, e *statusError) {
	if e.found {
		writeJSON(w, e.status, scancan.VirusFoundResponse{
			StatusCode: e.status,
			Response:   e.msg,
			Path:       e.path,
		})
		return
	}
	writeJSON(w, e.status, scancan.ErrorResponse{
		StatusCode: e.status,
		Response:   e.msg,
	})
}
