package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorDetails[string](w, status, message, "")
}

func writeErrorDetails[T any](w http.ResponseWriter, status int, message string, details T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: message,
		Data:    details,
	})
}

func logInternal(err error) {
	slog.Error("request failed", "error", err)
}
