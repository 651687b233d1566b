// Package testutil provides test helpers for the scancan module.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
)

// NewMockServer creates an httptest.Server that handles ScanCan API endpoints.
// The handlers map allows overriding behavior per endpoint pattern.
func NewMockServer(handlers map[string]http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}
	return httptest.NewServer(mux)
}

// JSONHandler returns an http.HandlerFunc that responds with the given status code and JSON body.
func JSONHandler(statusCode int, body interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}
}

// UploadHandler returns an http.HandlerFunc that reads the multipart "file" field
// and responds with whatever checkFunc returns for it.
func UploadHandler(checkFunc func(data []byte, filename string) (int, interface{})) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(ErrorBody(http.StatusUnprocessableEntity, "Provide a file")) //nolint:errcheck
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		statusCode, body := checkFunc(data, header.Filename)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}
}

// CleanScanResponse returns a standard clean scan body.
func CleanScanResponse(reply string) map[string]interface{} {
	return map[string]interface{}{"result": reply}
}

// InfectedScanResponse returns a standard virus-found body. path may be empty.
func InfectedScanResponse(reply, path string) map[string]interface{} {
	body := map[string]interface{}{
		"status_code": http.StatusNotAcceptable,
		"response":    reply,
	}
	if path != "" {
		body["path"] = path
	}
	return body
}

// ErrorBody returns a standard error body.
func ErrorBody(statusCode int, msg string) map[string]interface{} {
	return map[string]interface{}{
		"status_code": statusCode,
		"response":    msg,
	}
}
