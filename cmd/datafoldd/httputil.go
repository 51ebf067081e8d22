package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// errorBody is the error response shape of spec.md §6: every error the
// handlers write through writeError gets a machine-readable code, a
// correlation id, and a unix timestamp; details is intentionally always
// omitted since this binary has no development-mode flag. Requests rejected
// by authsig.Middleware never reach these handlers and get its plain-text
// error response instead.
type errorBody struct {
	Error         bool   `json:"error"`
	ErrorCode     string `json:"error_code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
	Timestamp     int64  `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Error:         true,
		ErrorCode:     code,
		Message:       message,
		CorrelationID: uuid.New().String(),
		Timestamp:     time.Now().Unix(),
	})
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
