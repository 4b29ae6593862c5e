package handler

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the error body the web client understands.
type ErrorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	Details      string `json:"details,omitempty"`
	SubmissionID string `json:"submissionId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
