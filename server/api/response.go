package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/compose-network/zksafe/server/api/middleware"
	"github.com/compose-network/zksafe/x/zkerr"
)

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes a standardized error response with request tracking.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID, _ := r.Context().Value(middleware.RequestIDKey).(string)

	body := map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	if details != nil {
		body["details"] = details
	}

	WriteJSON(w, status, map[string]any{"error": body})
}

// WriteServiceError maps a service error onto the HTTP error shape. Classified errors keep
// their code and context; anything else is reported as an internal error without leaking
// its text.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var zerr *zkerr.Error
	if !errors.As(err, &zerr) {
		WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error", nil)
		return
	}

	var details any
	if len(zerr.Context) > 0 {
		details = zerr.Context
	}
	message := zerr.Message
	if zerr.Cause != nil && zerr.Kind == zkerr.KindExternal && !strings.Contains(message, zerr.Cause.Error()) {
		message += ": " + zerr.Cause.Error()
	}
	WriteError(w, r, StatusFor(zerr.Kind), string(zerr.Code), message, details)
}

// StatusFor is the HTTP status for an error kind.
func StatusFor(kind zkerr.Kind) int {
	switch kind {
	case zkerr.KindValidation:
		return http.StatusBadRequest
	case zkerr.KindNotFound:
		return http.StatusNotFound
	case zkerr.KindConflict:
		return http.StatusConflict
	case zkerr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes a request body, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return zkerr.New(zkerr.CodeInvalidInput, "failed to decode request").WithCause(err)
	}
	return nil
}

const maxBodyBytes = 8 << 20
