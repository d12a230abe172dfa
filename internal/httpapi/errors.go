package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/federated"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/otp"
)

var errEmptyBody = errors.New("request body is required")

// writeAuthError maps domain errors to status codes. Every authentication
// failure gets the same 401 body.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, otp.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, cleanMessage(err))
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, federated.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, otp.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "otp not found")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, otp.ErrExpired):
		writeError(w, r, http.StatusBadRequest, "otp expired")
	case errors.Is(err, otp.ErrAttemptLimit):
		writeError(w, r, http.StatusBadRequest, "too many attempts")
	case errors.Is(err, otp.ErrInvalidCode):
		writeError(w, r, http.StatusBadRequest, "invalid otp")
	case errors.Is(err, federated.ErrNotConfigured):
		writeError(w, r, http.StatusServiceUnavailable, "federated login is not configured")
	default:
		obs.LogError("request_failed", err, map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// cleanMessage drops the package prefix from a sentinel chain.
func cleanMessage(err error) string {
	msg := err.Error()
	for _, prefix := range []string{"auth: invalid input: ", "otp: invalid input: "} {
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
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

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
