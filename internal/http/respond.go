package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"canvas-sync/internal/blob"
	"canvas-sync/internal/notes"
	"canvas-sync/internal/ws"
)

type okResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// send JSON with proper headers
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, okResponse{Status: "ok", Message: msg, Data: data})
}

// writeError maps domain errors to a status. Anything unrecognised is a
// storage failure: logged, and reported without internals.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error("request.failed", "err", err)
	}
	writeJSON(w, status, errorResponse{Status: "error", Message: msg})
}

func classify(err error) (int, string) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, ws.ErrDuplicateClient):
		return http.StatusConflict, "Already registered. Log out again."
	case errors.Is(err, ws.ErrUnknownClient):
		return http.StatusNotFound, "unknown client"
	case errors.Is(err, blob.ErrExists):
		return http.StatusConflict, "file already exists"
	case errors.Is(err, blob.ErrNotFound), errors.Is(err, notes.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, blob.ErrInvalidID), errors.Is(err, notes.ErrInvalidID), errors.Is(err, errBadPayload):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "payload too large"
	default:
		return http.StatusInternalServerError, "operation failed"
	}
}
