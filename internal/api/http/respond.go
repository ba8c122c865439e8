// Package apihttp holds the response helpers shared by the HTTP handlers.
package apihttp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"twinhub/internal/attrstore"
)

// WriteJSON encodes payload as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps a service error onto an HTTP status and writes it out.
// Validation failures become 400, missing rows 404, conflicts 409.
// Anything unrecognized is logged and reported as a bare 500 so storage
// details never leak to clients.
func WriteError(w http.ResponseWriter, logger *log.Logger, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Printf("%s: %v", op, err)
		}
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, attrstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attrstore.ErrAlreadyExists),
		errors.Is(err, attrstore.ErrAmbiguous):
		return http.StatusConflict
	case errors.Is(err, attrstore.ErrInvalidDatatype):
		return http.StatusBadRequest
	}

	var (
		mismatch   *attrstore.DatatypeMismatchError
		attrSet    *attrstore.AttributeSetError
		unknown    *attrstore.UnknownAttributeError
		referenced *attrstore.ReferencedError
		length     *attrstore.LengthMismatchError
		measure    *attrstore.InvalidMeasureError
	)
	switch {
	case errors.As(err, &referenced):
		return http.StatusConflict
	case errors.As(err, &mismatch),
		errors.As(err, &attrSet),
		errors.As(err, &unknown),
		errors.As(err, &length),
		errors.As(err, &measure):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
