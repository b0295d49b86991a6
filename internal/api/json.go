package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON writes v as the response body. Encode failures are only
// logged; the status line is already on the wire at that point.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

// errResponse is the uniform error body for every non-2xx response.
type errResponse struct {
	Error string `json:"error" example:"document not found"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}
