// Package httpapi exposes the event lifecycle over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/felixgeelhaar/relay-go/domain/event"
	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
)

// maxBodyBytes caps request bodies. Payloads are small JSON objects;
// anything near this limit is abuse.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Add(logging.ErrorField(err)).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps a lifecycle error onto an HTTP status.
// Internal failures get a generic message; no store detail leaks to
// the caller.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case event.IsValidation(err), errors.Is(err, event.ErrReplayLimit), errors.Is(err, event.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, event.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, event.ErrForbidden):
		writeError(w, http.StatusForbidden, "not the event owner")
	default:
		logging.Error().Add(logging.ErrorField(err)).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody reads and unmarshals a JSON request body into dst.
// Unknown fields are ignored; clients may send more than we read.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}
