package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alecgard/usagedash/internal/aggregate"
	"github.com/alecgard/usagedash/internal/calendar"
	"github.com/alecgard/usagedash/internal/pricing"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorEnvelope{Error: message})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v interface{}) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

// isValidationError reports whether err stems from bad caller input.
func isValidationError(err error) bool {
	return errors.Is(err, aggregate.ErrInvalidArgument) ||
		errors.Is(err, pricing.ErrInvalidArgument) ||
		errors.Is(err, calendar.ErrInvalidDate)
}

// writeServiceError maps a pipeline or report error onto a status code and
// logs server-side failures.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if isValidationError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	attrs := []any{"path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err}
	var lookupErr *aggregate.LookupError
	if errors.As(err, &lookupErr) {
		attrs = append(attrs, "conversation_id", lookupErr.ConversationID)
	}
	slog.Error("request failed", attrs...)
	writeError(w, http.StatusInternalServerError, err.Error())
}
