package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the envelope every failed request returns.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, kind, message string, retryable bool) {
	WriteJSON(w, status, ErrorBody{Error: ErrorDetail{Kind: kind, Message: message, Retryable: retryable}})
}
