package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"idcheck.org/internal/checker"
	"idcheck.org/internal/obs"
	"idcheck.org/internal/validationlog"
)

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeStoreError maps validation log errors onto status codes. A number
// that fails validation is never an error; this only covers failures to read
// or record.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validationlog.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, validationlog.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "validation log not found")
	case errors.Is(err, validationlog.ErrConcurrencyConflict):
		writeError(w, r, http.StatusConflict, "validation log was modified concurrently")
	case errors.Is(err, validationlog.ErrPersistenceUnavailable):
		obs.Logger().WarnContext(r.Context(), "validation log unavailable",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "validation log unavailable")
	default:
		obs.Logger().ErrorContext(r.Context(), "validation log failure",
			"request_id", RequestIDFromContext(r.Context()),
			"kind", checker.ErrorKind(err), "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
